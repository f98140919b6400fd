package recorder

import (
	"fmt"
	"strconv"

	"github.com/ashureev/gazecal/internal/catalog"
	"github.com/ashureev/gazecal/internal/domain"
)

// Header is the output column order. Downstream analysis tooling depends on
// it, so columns are never reordered, renamed, or dropped.
var Header = []string{
	"CalibrationNumber", "FrameNumber", "CrosshairPosition",
	"Counter", "CursorX", "CursorY", "CursorState",
	"LeftEyeX", "LeftEyeY", "LeftEyeZ", "LeftEyePupilDiameter", "LeftEyePupilValid",
	"RightEyeX", "RightEyeY", "RightEyeZ", "RightEyePupilDiameter", "RightEyePupilValid",
	"FixedPogX", "FixedPogY", "FixedPogStart", "FixedPogDuration", "FixedPogId", "FixedPogValid",
	"LeftPogX", "LeftPogY", "LeftPogValid",
	"RightPogX", "RightPogY", "RightPogValid",
	"BestPogX", "BestPogY", "BestPogValid",
	"LeftPupilX", "LeftPupilY", "LeftPupilDiameter", "LeftPupilScale", "LeftPupilValid",
	"RightPupilX", "RightPupilY", "RightPupilDiameter", "RightPupilScale", "RightPupilValid",
	"Time", "TimeTick",
}

func ftoa(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// EncodeRow renders a record as one output row in Header order.
func EncodeRow(r domain.CapturedRecord) []string {
	g := r.Sample
	return []string{
		strconv.Itoa(r.TrialID), strconv.Itoa(r.FrameIndex), catalog.FormatPosition(r.Target),
		strconv.FormatInt(g.Counter, 10), ftoa(g.Cursor.X), ftoa(g.Cursor.Y), strconv.Itoa(g.Cursor.State),
		ftoa(g.LeftEye.X), ftoa(g.LeftEye.Y), ftoa(g.LeftEye.Z), ftoa(g.LeftEye.PupilDiameter), strconv.Itoa(g.LeftEye.Valid),
		ftoa(g.RightEye.X), ftoa(g.RightEye.Y), ftoa(g.RightEye.Z), ftoa(g.RightEye.PupilDiameter), strconv.Itoa(g.RightEye.Valid),
		ftoa(g.FixedPoG.X), ftoa(g.FixedPoG.Y), ftoa(g.FixedPoG.Start), ftoa(g.FixedPoG.Duration), strconv.FormatInt(g.FixedPoG.ID, 10), strconv.Itoa(g.FixedPoG.Valid),
		ftoa(g.LeftPoG.X), ftoa(g.LeftPoG.Y), strconv.Itoa(g.LeftPoG.Valid),
		ftoa(g.RightPoG.X), ftoa(g.RightPoG.Y), strconv.Itoa(g.RightPoG.Valid),
		ftoa(g.BestPoG.X), ftoa(g.BestPoG.Y), strconv.Itoa(g.BestPoG.Valid),
		ftoa(g.LeftPupil.X), ftoa(g.LeftPupil.Y), ftoa(g.LeftPupil.Diameter), ftoa(g.LeftPupil.Scale), strconv.Itoa(g.LeftPupil.Valid),
		ftoa(g.RightPupil.X), ftoa(g.RightPupil.Y), ftoa(g.RightPupil.Diameter), ftoa(g.RightPupil.Scale), strconv.Itoa(g.RightPupil.Valid),
		ftoa(g.Time), strconv.FormatInt(g.TimeTick, 10),
	}
}

// rowDecoder walks a row left to right and keeps the first error.
type rowDecoder struct {
	fields []string
	i      int
	err    error
}

func (d *rowDecoder) next() string {
	s := d.fields[d.i]
	d.i++
	return s
}

func (d *rowDecoder) fail(err error) {
	if d.err == nil {
		d.err = fmt.Errorf("column %s: %w", Header[d.i-1], err)
	}
}

func (d *rowDecoder) float() float64 {
	v, err := strconv.ParseFloat(d.next(), 64)
	if err != nil {
		d.fail(err)
	}
	return v
}

func (d *rowDecoder) int() int {
	v, err := strconv.Atoi(d.next())
	if err != nil {
		d.fail(err)
	}
	return v
}

func (d *rowDecoder) int64() int64 {
	v, err := strconv.ParseInt(d.next(), 10, 64)
	if err != nil {
		d.fail(err)
	}
	return v
}

func (d *rowDecoder) position() domain.Position {
	p, err := catalog.ParsePosition(d.next())
	if err != nil {
		d.fail(err)
	}
	return p
}

// DecodeRow is the inverse of EncodeRow. It lets exported files be read back
// for verification and recovery tooling.
func DecodeRow(fields []string) (domain.CapturedRecord, error) {
	if len(fields) != len(Header) {
		return domain.CapturedRecord{}, fmt.Errorf("expected %d columns, got %d", len(Header), len(fields))
	}

	d := &rowDecoder{fields: fields}
	var r domain.CapturedRecord
	g := &r.Sample

	r.TrialID = d.int()
	r.FrameIndex = d.int()
	r.Target = d.position()

	g.Counter = d.int64()
	g.Cursor = domain.Cursor{X: d.float(), Y: d.float(), State: d.int()}
	g.LeftEye = domain.Eye{X: d.float(), Y: d.float(), Z: d.float(), PupilDiameter: d.float(), Valid: d.int()}
	g.RightEye = domain.Eye{X: d.float(), Y: d.float(), Z: d.float(), PupilDiameter: d.float(), Valid: d.int()}
	g.FixedPoG = domain.FixedPoG{X: d.float(), Y: d.float(), Start: d.float(), Duration: d.float(), ID: d.int64(), Valid: d.int()}
	g.LeftPoG = domain.PoG{X: d.float(), Y: d.float(), Valid: d.int()}
	g.RightPoG = domain.PoG{X: d.float(), Y: d.float(), Valid: d.int()}
	g.BestPoG = domain.PoG{X: d.float(), Y: d.float(), Valid: d.int()}
	g.LeftPupil = domain.Pupil{X: d.float(), Y: d.float(), Diameter: d.float(), Scale: d.float(), Valid: d.int()}
	g.RightPupil = domain.Pupil{X: d.float(), Y: d.float(), Diameter: d.float(), Scale: d.float(), Valid: d.int()}
	g.Time = d.float()
	g.TimeTick = d.int64()

	if d.err != nil {
		return domain.CapturedRecord{}, d.err
	}
	return r, nil
}
