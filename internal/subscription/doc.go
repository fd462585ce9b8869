// Package subscription receives push notifications from WeMo switches.
//
// A Manager sends UPnP SUBSCRIBE requests to devices, asking them to POST
// state changes to a callback URL of the form
//
//	http://<local ip>:<callback port>/?from=<device ip:port>
//
// and runs the HTTP listener behind that URL. Device subscriptions expire
// after their TTL, so a renewal loop re-sends SUBSCRIBE for every known
// host on a fixed period (30s by default). A host that fails to renew is
// logged and retried next period; it never holds up the others.
//
//	m := subscription.NewManager(subscription.Config{CallbackPort: 3000, TTL: 5 * time.Minute})
//	if err := m.Start(); err != nil {
//	    return err
//	}
//	defer m.Stop(context.Background())
//
//	err := m.Subscribe(ctx, "192.168.1.20:49153", func(n subscription.Notification) {
//	    fmt.Println(n.Host, n.State)
//	})
//
// The listener acknowledges every request with 200, including ones for
// unknown hosts or without a state, because devices cancel subscriptions
// whose callbacks fail.
package subscription
