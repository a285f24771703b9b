package interview

import (
	"fmt"
	"strings"

	"github.com/lexiqai/interview-gateway/internal/config"
)

// Interviewer is the synthetic interviewer's identity
type Interviewer struct {
	Name string

	// Voice is the TTS voice; empty selects the engine default
	Voice string

	// GreetingAsset names a prerecorded greeting played before the first question
	GreetingAsset string
}

// Greeting is spoken when the greeting recording cannot be played
func (i Interviewer) Greeting() string {
	return fmt.Sprintf("Hello, I am %s. Let's start the interview.", i.Name)
}

// ClosingRemark is spoken after the last answer
const ClosingRemark = "Thank you for your time. The interview is now complete."

// Catalog lists the available interviewers; the first entry is the default
type Catalog []Interviewer

// NewCatalog builds the interviewer catalog from configured voices
func NewCatalog(cfg *config.Config) Catalog {
	return Catalog{
		{Name: "Tina", Voice: cfg.CartesiaVoiceFemale, GreetingAsset: "tina.wav"},
		{Name: "Sameer", Voice: cfg.CartesiaVoiceMale, GreetingAsset: "sameer.wav"},
	}
}

// Find matches an interviewer whose name is contained in id, ignoring case.
// Unknown ids resolve to the default interviewer.
func (c Catalog) Find(id string) Interviewer {
	needle := strings.ToLower(id)
	for _, interviewer := range c {
		if strings.Contains(needle, strings.ToLower(interviewer.Name)) {
			return interviewer
		}
	}
	if len(c) == 0 {
		return Interviewer{Name: "Tina"}
	}
	return c[0]
}
