package motor

// DeviceStatus is a snapshot of the controller state as reported by the
// RS/IP/AL commands. Snapshots are value copies; listeners never see the
// client's internal state.
type DeviceStatus struct {
	Connected        bool
	Alarm            bool
	Enabled          bool
	Fault            bool
	Moving           bool
	Homing           bool
	Jogging          bool
	MotionInProgress bool
	InPosition       bool
	Stopping         bool
	Waiting          bool

	Position     int
	AlarmMessage string
}

// statusFromLetters maps the RS reply letter set onto boolean fields.
//
//	A=alarm, D=disabled, R=enabled, E=fault, F=moving, H=homing,
//	J=jogging, M=motion in progress, P=in position, S=stopping,
//	T/W=waiting
func statusFromLetters(letters string) DeviceStatus {
	var st DeviceStatus
	for _, letter := range letters {
		switch letter {
		case 'A':
			st.Alarm = true
		case 'D':
			st.Enabled = false
		case 'R':
			st.Enabled = true
		case 'E':
			st.Fault = true
		case 'F':
			st.Moving = true
		case 'H':
			st.Homing = true
		case 'J':
			st.Jogging = true
		case 'M':
			st.MotionInProgress = true
		case 'P':
			st.InPosition = true
		case 'S':
			st.Stopping = true
		case 'T', 'W':
			st.Waiting = true
		}
	}
	return st
}
