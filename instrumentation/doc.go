// Package instrumentation provides OpenTelemetry instrumentation for the authorization server.
//
// Every layer obtains its Tracer and Meter from a shared Instrumentation value, scoped by
// layer name ("http", "server", "storage"). When instrumentation is disabled, no-op
// providers are used and recording costs nothing.
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "oauth2-server",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	store := memory.New()
//	store.SetInstrumentation(inst)
//
// SECURITY: Attributes carry identifiers (client IDs, grant types) only. Tokens, codes,
// secrets, and passwords are never recorded.
package instrumentation
