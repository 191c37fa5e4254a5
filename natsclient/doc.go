// Package natsclient manages the NATS connection used by the JetStream-backed
// storage backends.
//
// A Client is created with NewClient, connected once with Connect, and shared
// by the key-value and object store backends:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithName("shipstream"),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "ships"})
//
// The nats.go library handles reconnection internally; the client mirrors its
// state in Status for health reporting.
//
// TestClient starts a disposable JetStream server with testcontainers for
// integration tests.
package natsclient
