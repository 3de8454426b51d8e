package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"time"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// editingProducers are tools that indicate a document was edited as an image.
var editingProducers = []string{"photoshop", "gimp", "paint", "canva", "pixelmator"}

// OCR scores low recognition confidence and required fields missing from
// the extracted text.
func OCR(ctx context.Context, d *domain.Document) (domain.DetectionSignal, error) {
	var ev []domain.Evidence
	score := 1 - d.OCRConfidence
	if d.OCRConfidence < 0.7 {
		ev = append(ev, evidence("low_ocr_confidence", SourceDocument, 0.6, d.OCRConfidence,
			"OCR confidence %.2f", d.OCRConfidence))
	}

	if len(d.RequiredFields) > 0 {
		text := strings.ToLower(d.Text)
		var missing []string
		for _, f := range d.RequiredFields {
			if !strings.Contains(text, strings.ToLower(f)) {
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			score = math.Max(score, float64(len(missing))/float64(len(d.RequiredFields)))
			ev = append(ev, evidence("missing_fields", SourceDocument, 0.8, missing,
				"%d of %d required fields missing: %s", len(missing), len(d.RequiredFields), strings.Join(missing, ", ")))
		}
	}

	return result("ocr", score, ev...), nil
}

// Signatures scores the weakest signature match. A document without any
// signature scores 1.
func Signatures(ctx context.Context, d *domain.Document) (domain.DetectionSignal, error) {
	if len(d.Signatures) == 0 {
		return result("signature", 1, evidence("unsigned", SourceDocument, 0.8, nil,
			"%s carries no signature", d.Kind)), nil
	}

	weakest := d.Signatures[0]
	for _, s := range d.Signatures[1:] {
		if s.MatchScore < weakest.MatchScore {
			weakest = s
		}
	}

	var ev []domain.Evidence
	if weakest.MatchScore < 0.8 {
		ev = append(ev, evidence("signature_mismatch", SourceDocument, 0.85, weakest,
			"Signature of %s matches reference at %.2f", weakest.Signer, weakest.MatchScore))
	}
	return result("signature", 1-weakest.MatchScore, ev...), nil
}

// Template scores 1 minus the similarity to the registered template.
func Template(ctx context.Context, d *domain.Document) (domain.DetectionSignal, error) {
	if d.TemplateID == "" {
		return domain.DetectionSignal{}, domain.ErrSignalUnavailable
	}
	var ev []domain.Evidence
	if d.TemplateSimilarity < 0.8 {
		ev = append(ev, evidence("template_mismatch", SourceDocument, 0.75,
			map[string]any{"templateId": d.TemplateID, "similarity": d.TemplateSimilarity},
			"Layout matches template %s at %.2f", d.TemplateID, d.TemplateSimilarity))
	}
	return result("template", 1-d.TemplateSimilarity, ev...), nil
}

// Metadata scores inconsistent file metadata: modification before creation,
// creation after the business date, and image editing tools.
func Metadata(ctx context.Context, d *domain.Document) (domain.DetectionSignal, error) {
	m := d.Metadata
	var score float64
	var ev []domain.Evidence

	if !m.CreatedAt.IsZero() && !m.ModifiedAt.IsZero() && m.ModifiedAt.Before(m.CreatedAt) {
		score = 1
		ev = append(ev, evidence("metadata_timeline", SourceDocument, 0.85, m,
			"Modified %s before it was created %s", m.ModifiedAt.Format(time.RFC3339), m.CreatedAt.Format(time.RFC3339)))
	}

	if !m.CreatedAt.IsZero() && m.CreatedAt.After(d.Timestamp.Add(24*time.Hour)) {
		score = math.Max(score, 0.7)
		ev = append(ev, evidence("backdated", SourceDocument, 0.75, m,
			"File created %s, after the document date %s", m.CreatedAt.Format(time.RFC3339), d.Timestamp.Format(time.RFC3339)))
	}

	producer := strings.ToLower(m.Producer)
	for _, tool := range editingProducers {
		if producer != "" && strings.Contains(producer, tool) {
			score = math.Max(score, 0.8)
			ev = append(ev, evidence("edited_document", SourceDocument, 0.7, m.Producer,
				"Produced with image editor %q", m.Producer))
			break
		}
	}

	return result("metadata", score, ev...), nil
}

// Hash compares the SHA-256 of the content with the registered hash:
// 0 when they match, 1 otherwise.
func Hash(ctx context.Context, d *domain.Document) (domain.DetectionSignal, error) {
	if d.RegisteredHash == "" || len(d.Content) == 0 {
		return domain.DetectionSignal{}, domain.ErrSignalUnavailable
	}

	sum := sha256.Sum256(d.Content)
	actual := hex.EncodeToString(sum[:])
	if strings.EqualFold(actual, d.RegisteredHash) {
		return result("hash", 0), nil
	}
	return result("hash", 1, evidence("hash_mismatch", SourceDocument, 0.95,
		map[string]string{"registered": d.RegisteredHash, "actual": actual},
		"Content hash does not match the registered hash")), nil
}
