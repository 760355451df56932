package stress

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "stress")
