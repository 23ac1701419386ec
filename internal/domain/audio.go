package domain

// AudioSegment pairs one sentence of a response with its synthesized speech.
// Seq orders segments within a single response.
type AudioSegment struct {
	Seq     int    `json:"seq"`
	Episode uint64 `json:"episode"`
	Text    string `json:"text"`
	Audio   []byte `json:"-"`
	Format  string `json:"format"`
}

// HasAudio returns true if the segment carries playable bytes.
func (a *AudioSegment) HasAudio() bool {
	return a != nil && len(a.Audio) > 0
}
