package models

import "fmt"

// InvalidDocumentError reports a document rejected before chunking.
type InvalidDocumentError struct {
	ExternalID string
	Reason     string
}

func (e *InvalidDocumentError) Error() string {
	if e.ExternalID == "" {
		return "invalid document: " + e.Reason
	}
	return fmt.Sprintf("invalid document %s: %s", e.ExternalID, e.Reason)
}
