package refusal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldRefuse(t *testing.T) {
	g := NewGate()

	tests := []struct {
		name      string
		scores    []float64
		threshold float64
		want      bool
	}{
		{"empty scores", nil, 0.7, true},
		{"all below threshold", []float64{0.65, 0.5}, 0.7, true},
		{"max at threshold", []float64{0.7, 0.3}, 0.7, false},
		{"max above threshold", []float64{0.85, 0.78}, 0.7, false},
		{"single low score", []float64{0.65}, 0.7, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.ShouldRefuse(tt.scores, tt.threshold))
		})
	}
}

func TestIsRefusal(t *testing.T) {
	g := NewGate()

	assert.True(t, g.IsRefusal("I don't have information about that topic."))
	assert.True(t, g.IsRefusal("The book DOES NOT CONTAIN INFORMATION on this."))
	assert.True(t, g.IsRefusal("That is outside the scope of this book."))
	assert.False(t, g.IsRefusal("The Zero Moment Point is used for balance control."))
	assert.False(t, g.IsRefusal(""))
}

func TestDetectExternalReferences(t *testing.T) {
	g := NewGate()

	refs := g.DetectExternalReferences("This is explained in Chapter 3 and Module 2.")
	require.Len(t, refs, 2)
	assert.Contains(t, refs, "Chapter 3")
	assert.Contains(t, refs, "Module 2")

	assert.Nil(t, g.DetectExternalReferences("The selection describes motor torque."))
	assert.Nil(t, g.DetectExternalReferences(""))
}

func TestRefusalMessage(t *testing.T) {
	g := NewGate()

	// Selected-text mode always gets the mandatory message, regardless of reason.
	assert.Equal(t, SelectedTextRefusal, g.RefusalMessage(ModeSelectedText, ReasonLowSimilarity))
	assert.Equal(t, SelectedTextRefusal, g.RefusalMessage(ModeSelectedText, ReasonExternalReference))

	assert.Contains(t, g.RefusalMessage(ModeBookWide, ReasonLowSimilarity), "don't have information about that topic")
	assert.Contains(t, g.RefusalMessage(ModeBookWide, ReasonExternalReference), "beyond the book's content")
	assert.Contains(t, g.RefusalMessage(ModeBookWide, ReasonInsufficientContext), "sufficient information")
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	content := []byte("refusal_keywords:\n  - \"no puedo responder\"\nexternal_reference_patterns:\n  - 'Cap[íi]tulo\\s+\\d+'\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	g := NewGate()
	require.NoError(t, g.LoadOverrides(path))

	assert.True(t, g.IsRefusal("Lo siento, no puedo responder."))
	assert.False(t, g.IsRefusal("I don't have information about that."))
	assert.NotNil(t, g.DetectExternalReferences("Ver Capítulo 4."))
}
