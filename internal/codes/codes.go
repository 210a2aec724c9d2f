package codes

import (
	"crypto/rand"
	"math/big"
)

// Digits that read unambiguously off a projected screen; zero is excluded
// because it is easily confused with the letter O when dictated.
const alphabet = "123456789"

// DefaultEnrollmentLen is the length of permanent per-class enrollment codes.
const DefaultEnrollmentLen = 4

// DefaultAttendanceLen is the length of short-lived attendance codes.
const DefaultAttendanceLen = 3

// Generator produces human-dictatable numeric codes. Codes are short-lived
// and low-stakes, so uniqueness is the caller's concern (see the retry loops
// in classroom and attendance), not the generator's.
type Generator struct {
	EnrollmentLen int
	AttendanceLen int
}

// NewGenerator returns a generator with the given lengths, falling back to
// the defaults for non-positive values.
func NewGenerator(enrollmentLen, attendanceLen int) *Generator {
	if enrollmentLen <= 0 {
		enrollmentLen = DefaultEnrollmentLen
	}
	if attendanceLen <= 0 {
		attendanceLen = DefaultAttendanceLen
	}
	return &Generator{EnrollmentLen: enrollmentLen, AttendanceLen: attendanceLen}
}

// EnrollmentCode returns a new permanent class enrollment code.
func (g *Generator) EnrollmentCode() string {
	return randomCode(g.EnrollmentLen)
}

// AttendanceCode returns a new short-lived attendance code.
func (g *Generator) AttendanceCode() string {
	return randomCode(g.AttendanceLen)
}

func randomCode(length int) string {
	max := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is broken;
			// there is no useful recovery for a request-scoped code.
			panic(err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf)
}
