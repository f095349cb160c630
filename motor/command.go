package motor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CommandSpec describes one entry of the controller's ASCII command set.
// The table is fixed at compile time; values travel as float64 and are
// formatted/parsed per command.
type CommandSpec struct {
	// Code is the two-letter wire mnemonic.
	Code string

	// Encode renders a payload value after the mnemonic. Nil means the
	// command takes no payload.
	Encode func(v float64) string

	// Pattern extracts the returned value from the reply; the first
	// capture group is the value. Nil means the command only acks.
	Pattern *regexp.Regexp

	// TwoWay commands act as a getter when sent without a payload.
	TwoWay bool
}

func encodeFloat(prec int) func(float64) string {
	return func(v float64) string { return strconv.FormatFloat(v, 'f', prec, 64) }
}

// encodeInt truncates toward zero, matching the controller's display of
// step counts.
func encodeInt(v float64) string { return strconv.Itoa(int(v)) }

var commands = map[string]CommandSpec{
	"acceleration": {
		Code:    "AC",
		Encode:  encodeFloat(3),
		Pattern: regexp.MustCompile(`AC=([0-9]+\.?[0-9]*)`),
		TwoWay:  true,
	},
	"alarm": {
		Code:    "AL",
		Pattern: regexp.MustCompile(`AL=([0-9]{4})`),
	},
	"alarm_reset": {Code: "AR"},
	"deceleration": {
		Code:    "DE",
		Encode:  encodeFloat(3),
		Pattern: regexp.MustCompile(`DE=([0-9]+\.?[0-9]*)`),
		TwoWay:  true,
	},
	"disable": {Code: "MD"},
	"enable":  {Code: "ME"},
	"encoder_resolution": {
		Code:    "ER",
		Pattern: regexp.MustCompile(`ER=([0-9]+)`),
	},
	"feed": {Code: "FP"},
	"gearing": {
		Code:    "EG",
		Pattern: regexp.MustCompile(`EG=([0-9]+)`),
	},
	"get_position": {
		Code:    "IP",
		Pattern: regexp.MustCompile(`IP=(-?[0-9]+)`),
	},
	"protocol": {
		Code:    "PR",
		Encode:  encodeInt,
		Pattern: regexp.MustCompile(`PR=([0-9]{1,3})`),
		TwoWay:  true,
	},
	"request_status": {
		Code:    "RS",
		Pattern: regexp.MustCompile(`RS=([ADEFHJMPRSTW]+)`),
	},
	"speed": {
		Code:    "VE",
		Encode:  encodeFloat(4),
		Pattern: regexp.MustCompile(`VE=([0-9]+\.?[0-9]*)`),
		TwoWay:  true,
	},
	"stop": {Code: "SK"},
	"target_distance": {
		Code:    "DI",
		Encode:  encodeInt,
		Pattern: regexp.MustCompile(`DI=(-?[0-9]+)`),
		TwoWay:  true,
	},
}

// Command looks up a CommandSpec by name.
func Command(name string) (CommandSpec, bool) {
	spec, ok := commands[name]
	return spec, ok
}

// nackCodes maps the numeric code of a `?` reply to its description.
var nackCodes = map[int]string{
	1:  "command timed out",
	2:  "parameter is too long",
	3:  "too few parameters",
	4:  "too many parameters",
	5:  "parameters out of range",
	6:  "command buffer (queue) full",
	7:  "cannot process command",
	8:  "program running",
	9:  "bad password",
	10: "comm port error",
	11: "bad character",
	12: "I/O point already used by current command mode, and cannot be changed (Flex I/O drives only)",
	13: "I/O point configured for incorrect use (i.e., input vs. output) (Flex I/O drives only)",
	14: "I/O point cannot be used for requested function - see HW manual for possible I/O function assignments (Flex I/O drives only)",
}

type replyKind int

const (
	replyValue replyKind = iota
	replyAckExecuted
	replyAckBuffered
	replyNack
)

var nackPattern = regexp.MustCompile(`^\d?\?(\d{1,2})$`)

// classifyReply sorts a raw reply into ack/buffered-ack/nack/value. For a
// nack it also returns the decoded *ProtocolError.
func classifyReply(command, raw string) (replyKind, *ProtocolError) {
	switch {
	case strings.ContainsRune(raw, '%'):
		return replyAckExecuted, nil
	case strings.ContainsRune(raw, '*'):
		return replyAckBuffered, nil
	case strings.ContainsRune(raw, '?'):
		code := 0
		if m := nackPattern.FindStringSubmatch(raw); m != nil {
			code, _ = strconv.Atoi(m[1])
		}
		return replyNack, &ProtocolError{
			Command: command,
			Code:    code,
			Message: nackCodes[code],
		}
	}
	return replyValue, nil
}

// decodeReply extracts the value text from a reply using the command's
// pattern. Replies to ack-only commands pass through untouched.
func decodeReply(spec CommandSpec, raw string) (string, error) {
	if spec.Pattern == nil {
		return raw, nil
	}
	m := spec.Pattern.FindStringSubmatch(raw)
	if m == nil {
		return "", errors.Errorf("reply %q does not match pattern for %s", raw, spec.Code)
	}
	return m[1], nil
}
