package reaper

import "errors"

var errNoOutcome = errors.New("no outcome reported for instance")
