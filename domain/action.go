//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package domain

import (
	"encoding/json"
	"fmt"
)

// ActionKind discriminates the wire-level ActionRecord tagged union
// exchanged between the parent daemon and an in-namespace child invoked as
// `vuinputd --action <json> --target-namespace <path>`.
type ActionKind string

const (
	ActionMknodDevice           ActionKind = "mknod-device"
	ActionWriteUdevRuntimeData  ActionKind = "write-udev-runtime-data"
	ActionEmitNetlinkMessage    ActionKind = "emit-netlink-message"
	ActionRemoveDevice          ActionKind = "remove-device"
)

// ActionRecord is the JSON-serializable, optionally base64-wrapped payload
// passed to a re-exec'd child via --action/--action-base64. Kind selects
// which fields are used.
type ActionRecord struct {
	Kind ActionKind `json:"action"`

	// MknodDevice / RemoveDevice (Major/Minor also WriteUdevRuntimeData)
	Path  string `json:"path,omitempty"`
	Major uint32 `json:"major,omitempty"`
	Minor uint32 `json:"minor,omitempty"`

	// WriteUdevRuntimeData (together with Major/Minor)
	RuntimeData *string `json:"runtime_data,omitempty"`

	// EmitNetlinkMessage
	NetlinkMessage map[string]string `json:"netlink_message,omitempty"`
}

// MarshalJSON and UnmarshalJSON are left to the default struct encoding:
// the `action` tag plus the per-kind fields round-trip without a manual
// two-phase decode because every variant's fields are optional. Validate
// reports malformed records the default decoder can't catch (required
// fields missing for the given Kind).
func (a ActionRecord) Validate() error {
	switch a.Kind {
	case ActionMknodDevice, ActionRemoveDevice:
		if a.Path == "" {
			return fmt.Errorf("action %s: path is required", a.Kind)
		}
	case ActionWriteUdevRuntimeData:
		if a.Major == 0 && a.Minor == 0 {
			return fmt.Errorf("action %s: major/minor are required", a.Kind)
		}
	case ActionEmitNetlinkMessage:
		if a.NetlinkMessage == nil {
			return fmt.Errorf("action %s: netlink_message is required", a.Kind)
		}
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

// EncodeJSON renders the record as compact JSON, suitable for --action.
func (a ActionRecord) EncodeJSON() (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeActionJSON parses the JSON form produced by EncodeJSON.
func DecodeActionJSON(s string) (ActionRecord, error) {
	var a ActionRecord
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return ActionRecord{}, err
	}
	if err := a.Validate(); err != nil {
		return ActionRecord{}, err
	}
	return a, nil
}
