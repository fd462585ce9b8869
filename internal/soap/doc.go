// Package soap is a minimal client for the WeMo basicevent control
// service.
//
// Each exchange uses a fresh TCP connection: write one HTTP POST with a
// SOAPACTION header and an XML envelope, then read until the device
// closes the connection. Devices answer slowly or not at all when they
// are busy, so every exchange is bounded by a timeout and a late answer
// is reported as wemo.ErrTimeout rather than as a partial response.
//
//	c, err := soap.Connect(ctx, ip, port)
//	if err != nil {
//	    return err
//	}
//	raw, err := c.Post(ctx, soap.GetBinaryState(), 300*time.Millisecond)
//	if err != nil {
//	    return err
//	}
//	body, err := soap.ResponseBody(soap.ActionGetBinaryState, raw)
package soap
