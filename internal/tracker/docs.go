package tracker

import (
	"fmt"
	"strconv"
)

// Vector document type discriminators carried in metadata.
const (
	DocTypeGenerated = "generated_qa"
	DocTypeConfirmed = "confident_qa"
)

// GeneratedDocID builds the deterministic vector doc ID for a generated
// pair. Reprocessing the same (page, version) yields the identical ID set,
// which makes vector upserts idempotent.
func GeneratedDocID(pageID string, version, index int) string {
	return fmt.Sprintf("qa_%s_%d_%d", pageID, version, index)
}

// ConfirmedDocID builds the vector doc ID for a confirmed pair.
func ConfirmedDocID(id int64) string {
	return fmt.Sprintf("confirmed_%d", id)
}

// QAContent renders a pair as the embedded document text. Question and
// answer are embedded together so either side of the pair can match a query.
func QAContent(question, answer string) string {
	return fmt.Sprintf("Q: %s\n\nA: %s", question, answer)
}

// GeneratedDocMetadata builds the vector metadata for a generated pair.
func GeneratedDocMetadata(page PageTracking, unit QAUnit) map[string]string {
	return map[string]string{
		"type":      DocTypeGenerated,
		"page_id":   page.PageID,
		"title":     page.Title,
		"space":     page.SpaceName,
		"space_key": page.SpaceKey,
		"version":   strconv.Itoa(page.Version),
		"url":       unit.URL,
		"question":  unit.Question,
		"answer":    unit.Answer,
	}
}

// ConfirmedDocMetadata builds the vector metadata for a confirmed pair.
func ConfirmedDocMetadata(pair ConfirmedPair) map[string]string {
	return map[string]string{
		"type":       DocTypeConfirmed,
		"question":   pair.Question,
		"answer":     pair.Answer,
		"confidence": strconv.Itoa(pair.Confidence),
	}
}
