// Package testutil holds fixtures shared by shipstream tests.
//
// MockUpstream and MockConn replace the AIS websocket feed without a network:
//
//	up := testutil.NewMockUpstream()
//	// inject a Dialer whose Dial calls up.Dial
//	conn, _ := up.Next(time.Second)
//	conn.Send(testutil.PositionFrame("123456789", 51.5, -0.1, 12, 90, time.Now()))
//	conn.Drop() // simulate an upstream disconnect
//
// PositionFrame and StaticDataFrame build upstream frames in the feed's wire
// format. Ship and Ships build registry and storage fixtures. FailingStore
// wraps any storage.Store to inject write failures.
package testutil
