// Package extraction turns a photographed shelf tag into a structured
// candidate reading: item number, price, unit price, description, price
// ending, discontinuation marker, a perceptual fingerprint, and a
// confidence score.
//
// The pipeline is: normalize the image for recognition, fingerprint the
// original image, recognize text through a Recognizer, then parse fields
// with independent pure functions. Each field parser stands alone, so a
// pattern that fails on one field never blocks recovery of the others —
// shelf tags vary wildly in layout and print quality, and partial
// extractions are worth surfacing.
//
// Extract never returns a Go error for bad content. An undecodable image
// produces a reading with Success=false, Confidence=0, and a populated
// Error; a readable image missing fields produces a partial reading with a
// penalized confidence.
package extraction
