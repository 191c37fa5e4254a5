// Package aisstream subscribes to the AISStream websocket feed and applies
// position reports to the vessel registry.
//
// # Connection lifecycle
//
// On Start the client dials the feed and sends a subscription frame:
//
//	{"APIKey": "...", "BoundingBoxes": [[[lat,lon],[lat,lon]]], "FilterMessageTypes": ["PositionReport"]}
//
// When the connection opens the shared health.ConnectionState is marked
// connected. When it closes or fails the state is marked disconnected and a
// reconnect is scheduled with capped exponential backoff. The backoff resets
// after every successful open. UpdateBoundingBoxes replaces the filter and
// reconnects immediately.
//
// # Message handling
//
// Frames are decoded by Decode. Frames without a PositionReport are ignored.
// Malformed frames are counted, logged at a bounded rate and dropped; they
// never close the connection.
//
// # Usage
//
//	client, err := aisstream.NewClient(cfg, reg, state,
//		aisstream.WithLogger(logger),
//		aisstream.WithMetrics(metricsRegistry))
//	if err != nil {
//		return err
//	}
//	if err := client.Start(ctx); err != nil {
//		return err
//	}
//	defer client.Stop(5 * time.Second)
package aisstream
