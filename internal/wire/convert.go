package wire

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/glinharesb/platform-go/internal/audit"
	"github.com/glinharesb/platform-go/internal/crypto"
	"github.com/glinharesb/platform-go/internal/hsm"
	"github.com/glinharesb/platform-go/internal/keystore"
	"github.com/glinharesb/platform-go/internal/signing"
)

var ErrMalformed = errors.New("malformed message")

// Key event types sent on WatchKeyEvents.
const (
	KeyEventCreated     = "CREATED"
	KeyEventRotated     = "ROTATED"
	KeyEventDeactivated = "DEACTIVATED"
)

func str(v string) *structpb.Value          { return structpb.NewStringValue(v) }
func b64(p []byte) *structpb.Value          { return str(base64.StdEncoding.EncodeToString(p)) }
func timestamp(t time.Time) *structpb.Value { return str(t.UTC().Format(time.RFC3339Nano)) }

func stringMap(m map[string]string) *structpb.Value {
	fields := make(map[string]*structpb.Value, len(m))
	for k, v := range m {
		fields[k] = str(v)
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

func errMissing(field string) error {
	return fmt.Errorf("%w: missing %s", ErrMalformed, field)
}

func getString(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func getBytes(s *structpb.Struct, key string) ([]byte, error) {
	v := getString(s, key)
	if v == "" {
		return nil, nil
	}
	p, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%w: field %s: %v", ErrMalformed, key, err)
	}
	return p, nil
}

func getTime(s *structpb.Struct, key string) (time.Time, error) {
	v := getString(s, key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: field %s: %v", ErrMalformed, key, err)
	}
	return t, nil
}

func getStringMap(s *structpb.Struct, key string) map[string]string {
	fields := s.GetFields()[key].GetStructValue().GetFields()
	if len(fields) == 0 {
		return nil
	}
	m := make(map[string]string, len(fields))
	for k, v := range fields {
		m[k] = v.GetStringValue()
	}
	return m
}

// KeyInfo

func KeyInfoToStruct(info hsm.KeyInfo) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"slot":       str(info.Slot),
		"curve":      str(info.Curve.String()),
		"public_key": b64(info.PublicKey),
		"locked":     structpb.NewBoolValue(info.Locked),
	}}
}

func KeyInfoFromStruct(s *structpb.Struct) (hsm.KeyInfo, error) {
	curve, err := crypto.ParseCurve(getString(s, "curve"))
	if err != nil {
		return hsm.KeyInfo{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	pub, err := getBytes(s, "public_key")
	if err != nil {
		return hsm.KeyInfo{}, err
	}
	return hsm.KeyInfo{
		Slot:      getString(s, "slot"),
		Curve:     curve,
		PublicKey: pub,
		Locked:    s.GetFields()["locked"].GetBoolValue(),
	}, nil
}

// SlotSignRequest builds the SecureElement.Sign request.
func SlotSignRequest(slot string, digest []byte) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"slot":   str(slot),
		"digest": b64(digest),
	}}
}

func ParseSlotSignRequest(s *structpb.Struct) (slot string, digest []byte, err error) {
	slot = getString(s, "slot")
	if slot == "" {
		return "", nil, errMissing("slot")
	}
	digest, err = getBytes(s, "digest")
	return slot, digest, err
}

// Key entries

func KeyEntryToStruct(e *keystore.KeyEntry) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"id":         str(e.ID),
		"curve":      str(e.Curve.String()),
		"location":   str(e.Location.String()),
		"status":     str(e.Status.String()),
		"public_key": b64(e.PublicKey),
		"created_at": timestamp(e.CreatedAt),
	}
	if e.Slot != "" {
		fields["slot"] = str(e.Slot)
	}
	if !e.RotatedAt.IsZero() {
		fields["rotated_at"] = timestamp(e.RotatedAt)
	}
	if len(e.Labels) > 0 {
		fields["labels"] = stringMap(e.Labels)
	}
	return &structpb.Struct{Fields: fields}
}

func KeyEntryFromStruct(s *structpb.Struct) (*keystore.KeyEntry, error) {
	curve, err := crypto.ParseCurve(getString(s, "curve"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	loc, err := keystore.ParseLocation(getString(s, "location"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	status, err := ParseKeyStatus(getString(s, "status"))
	if err != nil {
		return nil, err
	}
	pub, err := getBytes(s, "public_key")
	if err != nil {
		return nil, err
	}
	created, err := getTime(s, "created_at")
	if err != nil {
		return nil, err
	}
	rotated, err := getTime(s, "rotated_at")
	if err != nil {
		return nil, err
	}
	return &keystore.KeyEntry{
		ID:        getString(s, "id"),
		Curve:     curve,
		Location:  loc,
		Status:    status,
		Slot:      getString(s, "slot"),
		PublicKey: pub,
		CreatedAt: created,
		RotatedAt: rotated,
		Labels:    getStringMap(s, "labels"),
	}, nil
}

// ParseKeyStatus maps a status name to a KeyStatus. The empty string is
// zero, the ListKeys wildcard.
func ParseKeyStatus(name string) (keystore.KeyStatus, error) {
	for _, st := range []keystore.KeyStatus{keystore.StatusActive, keystore.StatusRotated, keystore.StatusDeactivated} {
		if st.String() == name {
			return st, nil
		}
	}
	if name == "" {
		return 0, nil
	}
	return 0, fmt.Errorf("%w: unknown key status %q", ErrMalformed, name)
}

// GenerateKeyRequest builds the KeyManagement.GenerateKey request.
func GenerateKeyRequest(curve crypto.Curve, loc keystore.Location, labels map[string]string) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"curve":    str(curve.String()),
		"location": str(loc.String()),
	}
	if len(labels) > 0 {
		fields["labels"] = stringMap(labels)
	}
	return &structpb.Struct{Fields: fields}
}

func ParseGenerateKeyRequest(s *structpb.Struct) (crypto.Curve, keystore.Location, map[string]string, error) {
	curve, err := crypto.ParseCurve(getString(s, "curve"))
	if err != nil {
		return 0, 0, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	loc := keystore.LocationStored
	if name := getString(s, "location"); name != "" {
		if loc, err = keystore.ParseLocation(name); err != nil {
			return 0, 0, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return curve, loc, getStringMap(s, "labels"), nil
}

func KeyEventToStruct(eventType string, e *keystore.KeyEntry, at time.Time) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"type":      str(eventType),
		"key":       structpb.NewStructValue(KeyEntryToStruct(e)),
		"timestamp": timestamp(at),
	}}
}

// Signatures

// KeySignRequest builds the Signing.Sign request.
func KeySignRequest(keyID string, digest []byte) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"key_id": str(keyID),
		"digest": b64(digest),
	}}
}

func ParseKeySignRequest(s *structpb.Struct) (keyID string, digest []byte, err error) {
	keyID = getString(s, "key_id")
	if keyID == "" {
		return "", nil, errMissing("key_id")
	}
	digest, err = getBytes(s, "digest")
	return keyID, digest, err
}

// BatchSignRequest builds the Signing.BatchSign request.
func BatchSignRequest(keyID string, digests [][]byte) *structpb.Struct {
	values := make([]*structpb.Value, len(digests))
	for i, d := range digests {
		values[i] = b64(d)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"key_id":  str(keyID),
		"digests": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

func ParseBatchSignRequest(s *structpb.Struct) (keyID string, digests [][]byte, err error) {
	keyID = getString(s, "key_id")
	if keyID == "" {
		return "", nil, errMissing("key_id")
	}
	for i, v := range s.GetFields()["digests"].GetListValue().GetValues() {
		d, err := base64.StdEncoding.DecodeString(v.GetStringValue())
		if err != nil {
			return "", nil, fmt.Errorf("%w: digest %d: %v", ErrMalformed, i, err)
		}
		digests = append(digests, d)
	}
	return keyID, digests, nil
}

// SignatureToStruct carries only the encodings whose flags are set.
func SignatureToStruct(res signing.SignatureResult) *structpb.Struct {
	fields := map[string]*structpb.Value{}
	if native, ok := res.Native(); ok {
		fields["native"] = b64(native)
	}
	if der, ok := res.PKCS(); ok {
		fields["pkcs"] = b64(der)
	}
	if prefix, ok := res.Prefix(); ok {
		fields["prefix"] = structpb.NewNumberValue(float64(prefix))
	}
	return &structpb.Struct{Fields: fields}
}

func SignatureFromStruct(s *structpb.Struct) (signing.SignatureResult, error) {
	var res signing.SignatureResult

	native, err := getBytes(s, "native")
	if err != nil {
		return signing.SignatureResult{}, err
	}
	if native != nil {
		if len(native) != signing.NativeSignSize {
			return signing.SignatureResult{}, fmt.Errorf("%w: native signature is %d bytes", ErrMalformed, len(native))
		}
		copy(res.NativeSign[:], native)
		res.NativeFormatUsed = true
	}

	der, err := getBytes(s, "pkcs")
	if err != nil {
		return signing.SignatureResult{}, err
	}
	if der != nil {
		if len(der) > signing.MaxPKCSSignSize {
			return signing.SignatureResult{}, fmt.Errorf("%w: pkcs signature is %d bytes", ErrMalformed, len(der))
		}
		res.PKCSSignLength = uint32(copy(res.PKCSSign[:], der))
		res.PKCSFormatUsed = true
	}

	if v, ok := s.GetFields()["prefix"]; ok {
		p := v.GetNumberValue()
		if p < 0 || p > 255 || p != float64(int(p)) {
			return signing.SignatureResult{}, fmt.Errorf("%w: prefix %v", ErrMalformed, p)
		}
		res.SignPrefix = byte(p)
		res.SignPrefixUsed = true
	}

	if err := res.Validate(); err != nil {
		return signing.SignatureResult{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return res, nil
}

// Audit

func AuditEntryToStruct(e audit.Entry) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"id":        str(e.ID),
		"timestamp": timestamp(e.Timestamp),
		"operation": str(e.Operation),
		"status":    str(e.Status),
	}
	if e.Subject != "" {
		fields["subject"] = str(e.Subject)
	}
	if e.PeerAddress != "" {
		fields["peer_address"] = str(e.PeerAddress)
	}
	if len(e.Metadata) > 0 {
		fields["metadata"] = stringMap(e.Metadata)
	}
	return &structpb.Struct{Fields: fields}
}

func AuditEntryFromStruct(s *structpb.Struct) (audit.Entry, error) {
	ts, err := getTime(s, "timestamp")
	if err != nil {
		return audit.Entry{}, err
	}
	return audit.Entry{
		ID:          getString(s, "id"),
		Timestamp:   ts,
		Operation:   getString(s, "operation"),
		Subject:     getString(s, "subject"),
		Status:      getString(s, "status"),
		PeerAddress: getString(s, "peer_address"),
		Metadata:    getStringMap(s, "metadata"),
	}, nil
}

func AuditFilterToStruct(f audit.Filter) *structpb.Struct {
	fields := map[string]*structpb.Value{}
	if f.Subject != "" {
		fields["subject"] = str(f.Subject)
	}
	if f.Operation != "" {
		fields["operation"] = str(f.Operation)
	}
	if !f.Start.IsZero() {
		fields["start"] = timestamp(f.Start)
	}
	if !f.End.IsZero() {
		fields["end"] = timestamp(f.End)
	}
	if f.Limit > 0 {
		fields["limit"] = structpb.NewNumberValue(float64(f.Limit))
	}
	return &structpb.Struct{Fields: fields}
}

func AuditFilterFromStruct(s *structpb.Struct) (audit.Filter, error) {
	start, err := getTime(s, "start")
	if err != nil {
		return audit.Filter{}, err
	}
	end, err := getTime(s, "end")
	if err != nil {
		return audit.Filter{}, err
	}
	return audit.Filter{
		Subject:   getString(s, "subject"),
		Operation: getString(s, "operation"),
		Start:     start,
		End:       end,
		Limit:     int(s.GetFields()["limit"].GetNumberValue()),
	}, nil
}
