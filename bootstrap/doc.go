// Package bootstrap wires configuration, storage, detection components and the API
// into a runnable service.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx, configPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	if err := app.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Block until SIGINT/SIGTERM or a listener failure
//	err = app.WaitForShutdown(ctx)
package bootstrap
