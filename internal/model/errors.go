package model

import "errors"

var errSceneAudioDelayExceedsDuration = errors.New("scene: audio delay exceeds scene duration")
