package bitvault

import "github.com/sirupsen/logrus"

// defaultLogger returns a logrus.Logger with the level and formatter this
// module logs at by default: info for the open lifecycle event, warn for
// failures (the silent-corruption signal in Get, failed Set/Remove/GC). The teacher never logs anything; this
// is an ambient-stack addition grounded on weaviate's use of logrus.
func defaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}
