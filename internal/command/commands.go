package command

import (
	"encoding/json"
	"fmt"

	"github.com/zjrosen/tabtree/internal/host"
)

// HostEventCommand carries one host event into the loop.
type HostEventCommand struct {
	BaseCommand
	Event host.Event
}

func NewHostEventCommand(ev host.Event) *HostEventCommand {
	return &HostEventCommand{BaseCommand: NewBaseCommand(CmdHostEvent, SourceHost), Event: ev}
}

func (c *HostEventCommand) Validate() error {
	if c.Event.Kind == "" {
		return fmt.Errorf("%w: host event without kind", ErrInvalidCommand)
	}
	return nil
}

// RPCCommand carries one inbound request. Payload is the raw request body.
type RPCCommand struct {
	BaseCommand
	Payload json.RawMessage
}

func NewRPCCommand(payload json.RawMessage) *RPCCommand {
	return &RPCCommand{BaseCommand: NewBaseCommand(CmdRPC, SourceRPC), Payload: payload}
}

func (c *RPCCommand) Validate() error {
	if len(c.Payload) == 0 {
		return fmt.Errorf("%w: empty request", ErrInvalidCommand)
	}
	return nil
}

// AutoSaveCommand asks for an auto-save snapshot.
type AutoSaveCommand struct {
	BaseCommand
}

func NewAutoSaveCommand() *AutoSaveCommand {
	return &AutoSaveCommand{BaseCommand: NewBaseCommand(CmdAutoSave, SourceTimer)}
}

// ReloadSettingsCommand carries freshly loaded settings. Settings is opaque
// here so this package does not depend on config.
type ReloadSettingsCommand struct {
	BaseCommand
	Settings any
}

func NewReloadSettingsCommand(settings any) *ReloadSettingsCommand {
	return &ReloadSettingsCommand{BaseCommand: NewBaseCommand(CmdReloadSettings, SourceInternal), Settings: settings}
}

func (c *ReloadSettingsCommand) Validate() error {
	if c.Settings == nil {
		return fmt.Errorf("%w: reload without settings", ErrInvalidCommand)
	}
	return nil
}
