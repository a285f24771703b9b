package interview

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lexiqai/interview-gateway/internal/config"
)

func TestCatalog_Find(t *testing.T) {
	catalog := NewCatalog(&config.Config{CartesiaVoiceFemale: "female", CartesiaVoiceMale: "male"})

	tests := []struct {
		id    string
		name  string
		voice string
		asset string
	}{
		{"agent_sameer_x81kd", "Sameer", "male", "sameer.wav"},
		{"SAMEER", "Sameer", "male", "sameer.wav"},
		{"agent_tina_01", "Tina", "female", "tina.wav"},
		{"", "Tina", "female", "tina.wav"},
		{"someone-else", "Tina", "female", "tina.wav"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got := catalog.Find(tt.id)
			assert.Equal(t, tt.name, got.Name)
			assert.Equal(t, tt.voice, got.Voice)
			assert.Equal(t, tt.asset, got.GreetingAsset)
		})
	}
}

func TestInterviewer_Greeting(t *testing.T) {
	assert.Equal(t, "Hello, I am Sameer. Let's start the interview.", Interviewer{Name: "Sameer"}.Greeting())
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(&config.Config{
		SilenceWindowMs:             1500,
		RecognitionRestartBackoffMs: 250,
		RecognitionMaxRestarts:      7,
		AnswerTimeoutSeconds:        45,
		WatchdogTickMs:              100,
	})

	assert.Equal(t, int64(1500), opts.SilenceWindow.Milliseconds())
	assert.Equal(t, int64(250), opts.RestartBackoff.Milliseconds())
	assert.Equal(t, 7, opts.MaxRestarts)
	assert.Equal(t, float64(45), opts.AnswerTimeout.Seconds())
	assert.Equal(t, int64(100), opts.Tick.Milliseconds())
}
