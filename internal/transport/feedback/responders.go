package feedback

import (
	"log"

	"structspawn.ai/internal/sim/assembler"
)

// LogResponder prints feedback as chat lines prefixed with the channel name.
type LogResponder struct {
	Channel string
	Logger  *log.Logger
}

func (r LogResponder) Respond(code, text string) {
	if r.Logger == nil {
		return
	}
	if code != "" {
		r.Logger.Printf("[%s] %s (%s)", r.Channel, text, code)
		return
	}
	r.Logger.Printf("[%s] %s", r.Channel, text)
}

type multiResponder []assembler.Responder

func (m multiResponder) Respond(code, text string) {
	for _, r := range m {
		r.Respond(code, text)
	}
}

// Responders fans feedback out to every non-nil responder.
func Responders(rs ...assembler.Responder) assembler.Responder {
	var out multiResponder
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multiRecorder []assembler.Recorder

func (m multiRecorder) RecordAttempt(rec assembler.AttemptRecord) error {
	var first error
	for _, r := range m {
		if err := r.RecordAttempt(rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m multiRecorder) RecordSpawn(rec assembler.SpawnRecord) error {
	var first error
	for _, r := range m {
		if err := r.RecordSpawn(rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorders fans records out to every non-nil recorder. Every recorder is
// called even when an earlier one fails; the first error is returned.
func Recorders(rs ...assembler.Recorder) assembler.Recorder {
	var out multiRecorder
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
