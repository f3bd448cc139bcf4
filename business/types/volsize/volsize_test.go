package volsize_test

import (
	"errors"
	"testing"

	"github.com/jcpaschoal/volauth/business/types/volsize"
)

func TestToMB(t *testing.T) {
	tt := []struct {
		name string
		size string
		want int64
	}{
		{name: "megabytes", size: "100MB", want: 100},
		{name: "lowercase", size: "100mb", want: 100},
		{name: "gigabytes", size: "2GB", want: 2048},
		{name: "terabytes", size: "1tb", want: 1024 * 1024},
		{name: "iec unit", size: "3GiB", want: 3072},
		{name: "space before unit", size: "40 MB", want: 40},
		{name: "kilobytes round up", size: "1KB", want: 1},
		{name: "exact kilobytes", size: "2048kb", want: 2},
		{name: "fractional", size: "1.5GB", want: 1536},
		{name: "zero", size: "0MB", want: 0},
	}

	for _, tst := range tt {
		t.Run(tst.name, func(t *testing.T) {
			got, err := volsize.ToMB(tst.size)
			if err != nil {
				t.Fatalf("Should be able to convert %q: %s", tst.size, err)
			}
			if got != tst.want {
				t.Errorf("got %d, want %d", got, tst.want)
			}
		})
	}
}

func TestToMBInvalid(t *testing.T) {
	for _, size := range []string{"", "100", "MB", "ten MB", "10XB", "-5MB", "10 M B"} {
		t.Run(size, func(t *testing.T) {
			_, err := volsize.ToMB(size)
			if !errors.Is(err, volsize.ErrInvalidSizeFormat) {
				t.Errorf("got %v, want ErrInvalidSizeFormat", err)
			}
		})
	}
}
