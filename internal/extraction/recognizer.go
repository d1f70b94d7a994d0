package extraction

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// charWhitelist restricts recognition to the characters that appear on
// shelf tags: digits, currency punctuation, and letters for descriptions.
const charWhitelist = "0123456789$.,/*ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz "

// Recognizer turns a prepared image into word tokens with per-token
// confidence in percent. Implementations must be safe for concurrent use.
type Recognizer interface {
	Recognize(img image.Image) ([]Token, error)
}

// TesseractRecognizer wraps a gosseract client. The native handle is not
// safe for concurrent use, so calls serialize behind a mutex; extraction
// stays parallel around it.
type TesseractRecognizer struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseractRecognizer creates a recognizer restricted to the shelf-tag
// character set. tessdataPrefix overrides the data directory when non-empty.
func NewTesseractRecognizer(languages []string, tessdataPrefix string) (*TesseractRecognizer, error) {
	client := gosseract.NewClient()

	if len(languages) > 0 {
		if err := client.SetLanguage(languages...); err != nil {
			client.Close()
			return nil, fmt.Errorf("setting languages: %w", err)
		}
	}
	if tessdataPrefix != "" {
		if err := client.SetTessdataPrefix(tessdataPrefix); err != nil {
			client.Close()
			return nil, fmt.Errorf("setting tessdata prefix: %w", err)
		}
	}
	if err := client.SetWhitelist(charWhitelist); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting whitelist: %w", err)
	}

	return &TesseractRecognizer{client: client}, nil
}

// Recognize runs OCR and returns word-level tokens.
func (r *TesseractRecognizer) Recognize(img image.Image) ([]Token, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding working image: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("loading image into tesseract: %w", err)
	}
	boxes, err := r.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("recognizing text: %w", err)
	}

	tokens := make([]Token, 0, len(boxes))
	for _, box := range boxes {
		if box.Word == "" {
			continue
		}
		tokens = append(tokens, Token{Text: box.Word, Confidence: box.Confidence})
	}
	return tokens, nil
}

// Close releases the tesseract handle.
func (r *TesseractRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client.Close()
}

var _ Recognizer = (*TesseractRecognizer)(nil)
