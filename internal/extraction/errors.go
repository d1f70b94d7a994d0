package extraction

import "errors"

// errNilRecognizer guards the extractor constructor; extraction cannot run
// without a recognizer.
var errNilRecognizer = errors.New("recognizer cannot be nil")
