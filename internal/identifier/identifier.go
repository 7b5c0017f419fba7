// Package identifier holds the per-timeslot identifier collections that carry
// channel metadata (configuration, decoder state and user identifiers) to
// external consumers.
package identifier

import (
	"fmt"
	"strconv"
)

// Class groups identifiers by their origin.
type Class string

const (
	ClassConfiguration Class = "CONFIGURATION"
	ClassDecoder       Class = "DECODER"
	ClassUser          Class = "USER"
)

// Form says what an identifier describes. A collection holds at most one
// identifier per (Class, Form).
type Form string

const (
	FormAliasList    Form = "ALIAS_LIST"
	FormChannelName  Form = "CHANNEL_NAME"
	FormChannelState Form = "CHANNEL_STATE"
	FormDecoderType  Form = "DECODER_TYPE"
	FormFrequency    Form = "FREQUENCY"
	FormSite         Form = "SITE"
	FormSystem       Form = "SYSTEM"
	FormTalkgroup    Form = "TALKGROUP"
	FormRadio        Form = "RADIO"
)

// Identifier is an immutable metadata value.
type Identifier struct {
	Class Class  `json:"class"`
	Form  Form   `json:"form"`
	Value string `json:"value"`
}

func (i Identifier) String() string {
	return fmt.Sprintf("%s/%s=%s", i.Class, i.Form, i.Value)
}

func configuration(form Form, value string) Identifier {
	return Identifier{Class: ClassConfiguration, Form: form, Value: value}
}

// DecoderType creates a decoder type configuration identifier.
func DecoderType(decoder string) Identifier { return configuration(FormDecoderType, decoder) }

// System creates a system configuration identifier.
func System(system string) Identifier { return configuration(FormSystem, system) }

// Site creates a site configuration identifier.
func Site(site string) Identifier { return configuration(FormSite, site) }

// ChannelName creates a channel name configuration identifier.
func ChannelName(name string) Identifier { return configuration(FormChannelName, name) }

// AliasList creates an alias list configuration identifier.
func AliasList(name string) Identifier { return configuration(FormAliasList, name) }

// Frequency creates a frequency configuration identifier in hertz.
func Frequency(hz int64) Identifier {
	return configuration(FormFrequency, strconv.FormatInt(hz, 10))
}

// ChannelState creates the decoder identifier that mirrors a channel state.
func ChannelState(state string) Identifier {
	return Identifier{Class: ClassDecoder, Form: FormChannelState, Value: state}
}

// Operation describes what happened to an identifier.
type Operation string

const (
	OperationAdd          Operation = "ADD"
	OperationRemove       Operation = "REMOVE"
	OperationSilentAdd    Operation = "SILENT_ADD"
	OperationSilentRemove Operation = "SILENT_REMOVE"
)

// IsAdd reports whether op adds an identifier, silently or not.
func (op Operation) IsAdd() bool {
	return op == OperationAdd || op == OperationSilentAdd
}

// IsSilent reports whether op must not be echoed back by receiving
// collections.
func (op Operation) IsSilent() bool {
	return op == OperationSilentAdd || op == OperationSilentRemove
}

// Notification announces an identifier change on one timeslot of a channel.
type Notification struct {
	Channel    string     `json:"channel"`
	Timeslot   int        `json:"timeslot"`
	Operation  Operation  `json:"operation"`
	Identifier Identifier `json:"identifier"`
}
