// Package server exposes a fleet of WeMo switches over HTTP.
//
// Routes:
//
//	GET  /ws                              live state notifications (websocket, JSON events)
//	GET  /metrics                         prometheus metrics
//	GET  /healthz                         liveness
//	GET  /api/devices                     last known state of every switch
//	GET  /api/devices/{key}               one switch, by serial or ip:port
//	POST /api/devices/{key}/{command}     on, off, toggle or state
//	GET  /api/subscriptions               event subscriptions and their renewal status
//
// Websocket clients receive one message per notification:
//
//	{"host":"192.168.1.20:49153","serial":"221517K0101769","state":"on","code":1,"at":"..."}
//
// Clients are never allowed to slow the notification path: each has a
// bounded queue and is disconnected when it fills.
//
// # Usage
//
//	srv := server.New(server.Config{Port: 8080}, server.Deps{Fleet: fleet, Gatherer: reg})
//	manager.Subscribe(ctx, host, srv.Notify)
//	if err := srv.Start(); err != nil {
//	    log.Fatal(err)
//	}
package server
