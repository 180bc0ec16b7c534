package startup

import (
	"github.com/datatrails/go-datatrails-coordination/logger"
)

type Logger = logger.Logger
