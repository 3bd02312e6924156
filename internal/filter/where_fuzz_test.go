package filter

import (
	"testing"

	"github.com/vburojevic/simpool/internal/domain"
)

func FuzzNewWhereFilter(f *testing.F) {
	f.Add(`state=Booted`)
	f.Add(`(state=Booted OR state="Shutting Down") AND name~/iphone 1[15]/i`)
	f.Add(`runtime$17.0 && device_type^iPhone`)
	f.Add(`!allocated=true`)
	f.Add(`unterminated"`)

	sim := &Simulator{
		Device: domain.Device{
			UDID:       "A1B2",
			Name:       "iPhone 15 (iOS 17.0)",
			State:      domain.StateBooted,
			DeviceType: "iPhone 15",
			Runtime:    "iOS 17.0",
		},
	}

	f.Fuzz(func(t *testing.T, expr string) {
		wf, err := NewWhereFilter([]string{expr})
		if err != nil {
			return
		}
		if wf != nil {
			_ = wf.Match(sim)
		}
	})
}
