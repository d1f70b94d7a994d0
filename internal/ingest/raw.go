package ingest

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/aislelabs/pricetagd/internal/extraction"
)

// rawFields captures the extraction residue worth keeping for audit: the
// recognized text and which structured fields were recovered. Nil when there
// is nothing to record.
func rawFields(candidate extraction.CandidateReading) datatypes.JSON {
	if candidate.RawText == "" && candidate.Error == "" {
		return nil
	}
	payload := map[string]any{
		"raw_text": candidate.RawText,
		"fields":   candidate.Fields(),
	}
	if candidate.Error != "" {
		payload["error"] = candidate.Error
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}
