/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/microsoft/mpirshim/internal/config"
	"github.com/microsoft/mpirshim/internal/pmix/pmixreal"
	"github.com/microsoft/mpirshim/internal/shim"
	"github.com/microsoft/mpirshim/internal/telemetry"
	"github.com/microsoft/mpirshim/pkg/logger"
	"github.com/microsoft/mpirshim/pkg/osutil"
	"github.com/microsoft/mpirshim/pkg/resiliency"
)

const (
	errCommandError = 1
	errSetup        = 1
	errPanic        = 3
)

func main() {
	log := logger.New("mpirshim").WithName("mpirshim")

	defer func() {
		panicErr := resiliency.MakePanicError(recover(), log.Logger)
		if panicErr != nil {
			os.Stderr.WriteString(panicErr.Error() + string(osutil.LineSep()))
			log.Flush()
			os.Exit(errPanic)
		}
	}()

	ts := telemetry.NewTelemetrySystem()
	defer func() { _ = ts.Shutdown(context.Background()) }()

	var exitCode int
	root := config.NewRootCmd(filepath.Base(os.Args[0]), log, ts.TracerProvider.Tracer("mpirshim"), pmixreal.New(), &exitCode)

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Stderr.WriteString(err.Error() + string(osutil.LineSep()))
		var cfgErr *shim.ConfigError
		if errors.As(err, &cfgErr) {
			log.Flush()
			os.Exit(errSetup)
		}
		log.Error(err, "mpirshim exiting with an error")
		log.Flush()
		os.Exit(errCommandError)
	}

	log.Flush()
	os.Exit(exitCode)
}
