package tileoverlay

import (
	"github.com/sirupsen/logrus"
)

// UI is the narrow set of capabilities the engine uses to talk to whatever
// presents it to the user
type UI interface {
	UpdateText(id, value string)
	DisplayStatus(msg string)
	DisplayError(msg string)
}

// LogUI is a UI that writes everything to a logger. It is used when there is
// no interactive surface, such as from the command line.
type LogUI struct {
	Logger logrus.FieldLogger
}

// UpdateText logs the new value of the element
func (u LogUI) UpdateText(id, value string) {
	u.Logger.WithField("element", id).Debug(value)
}

// DisplayStatus logs msg at info level
func (u LogUI) DisplayStatus(msg string) {
	u.Logger.Info(msg)
}

// DisplayError logs msg at error level
func (u LogUI) DisplayError(msg string) {
	u.Logger.Error(msg)
}

type discardUI struct{}

func (discardUI) UpdateText(string, string) {}
func (discardUI) DisplayStatus(string)      {}
func (discardUI) DisplayError(string)       {}
