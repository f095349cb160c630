package motor

import (
	"fmt"
	"strings"
)

// alarmCodes maps decoded alarm codes to their descriptions. Codes are
// the per-digit weights of the 4-digit AL reply, specific to STM motors.
var alarmCodes = map[int]string{
	1:    "position limit [Drive Fault]",
	2:    "CCW limit",
	4:    "CW limit",
	8:    "over temp  [Drive Fault]",
	10:   "internal voltage [Drive Fault]",
	20:   "over voltage [Drive Fault]",
	40:   "under voltage",
	80:   "over current [Drive Fault]",
	100:  "open motor winding [Drive Fault]",
	400:  "common error",
	800:  "bad flash",
	1000: "no move",
	4000: "blank Q segment",
}

// decodeAlarm expands a 4-digit AL reply into a joined message. Each
// digit contributes digit*10^(3-i); digits that map to no known code are
// skipped. An all-zero reply produces an empty string.
func decodeAlarm(code string) string {
	var msgs []string
	for i, digit := range code {
		if digit < '0' || digit > '9' {
			continue
		}
		n := int(digit - '0')
		weight := 1
		for j := 0; j < 3-i; j++ {
			weight *= 10
		}
		c := n * weight
		msg, ok := alarmCodes[c]
		if !ok {
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%04d - %s", c, msg))
	}
	return strings.Join(msgs, " :: ")
}
