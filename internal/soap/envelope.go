package soap

import (
	"fmt"

	"github.com/muurk/wemo/internal/wemo"
)

const envelopeFormat = `<?xml version="1.0" encoding="utf-8"?>` +
	`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">` +
	`<s:Body>` +
	`<u:%[1]s xmlns:u="` + ServiceType + `">` +
	`<BinaryState>%[2]d</BinaryState>` +
	`</u:%[1]s>` +
	`</s:Body>` +
	`</s:Envelope>`

// Action names
const (
	ActionGetBinaryState = "GetBinaryState"
	ActionSetBinaryState = "SetBinaryState"
)

// GetBinaryState builds the state query request
func GetBinaryState() Request {
	return Request{
		Path:   ControlPath,
		Action: ActionGetBinaryState,
		Body:   []byte(fmt.Sprintf(envelopeFormat, ActionGetBinaryState, 1)),
	}
}

// SetBinaryState builds the state change request
func SetBinaryState(state wemo.State) Request {
	return Request{
		Path:   ControlPath,
		Action: ActionSetBinaryState,
		Body:   []byte(fmt.Sprintf(envelopeFormat, ActionSetBinaryState, state.Code())),
	}
}
