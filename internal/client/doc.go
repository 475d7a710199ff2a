// Package client is the domain-scoped API most programs use: store a key,
// read it back, list, rename and delete keys.
//
// A Client wraps any tracker Requester (normally a *tracker.Conn) and hands
// the content work to the transfer package:
//
//	conn := tracker.NewConn(pool)
//	c := client.New("photos", conn)
//	n, err := c.StoreFile(ctx, "cat.jpg", "originals", f, client.NewFileOptions{})
//	data, err := c.GetFileData(ctx, "cat.jpg")
//
// Tracker calls are serialized with a mutex, so a Client can be shared.
// Writers and range files it returns are not.
package client
