package offline

import (
	"os"

	"github.com/sirupsen/logrus"
)

// defaultLogger reports warnings and errors on stderr.
func defaultLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	return l
}
