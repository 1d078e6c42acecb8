// The oppi service runs the small-business ledger. It provisions the
// database schema on startup and serves the REST API with the embedded
// admin shell.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/notorm-tech/un0/core/logger"
	"github.com/notorm-tech/un0/oppi"
)

func main() {
	logger.InitLogger(logrus.InfoLevel)
	rlog := logger.Default()

	service, err := oppi.NewService()
	if err != nil {
		rlog.WithError(err).Fatalln("configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := service.Provision(ctx); err != nil {
		rlog.WithError(err).Fatalln("provision")
	}

	if err := service.Run(ctx); err != nil {
		rlog.WithError(err).Fatalln("run")
	}
}
