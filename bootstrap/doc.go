// Package bootstrap wires configuration into a ready-to-run triage pipeline.
//
// Usage:
//
//	cfg, err := bootstrap.InitConfig("", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_, sugar, _ := bootstrap.InitLogger(cfg.LogLevel, nil)
//	app, err := bootstrap.NewApp(ctx, cfg, sugar)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	report, err := app.Run(ctx, findings)
package bootstrap
