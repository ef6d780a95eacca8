package audio

import "errors"

// ErrAudioMissing is returned by Play when the named clip does not exist
// under the configured clips directory.
var ErrAudioMissing = errors.New("audio: clip not found")
