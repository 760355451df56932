package multitau

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "multitau")
