package formutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitCSV(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: []string{}},
		{name: "blanks only", in: " , ,,", want: []string{}},
		{name: "trims", in: " A, B ,C ", want: []string{"A", "B", "C"}},
		{name: "inner spaces collapsed", in: "Higher  Math,  Bangla   1st", want: []string{"Higher Math", "Bangla 1st"}},
		{name: "dedup keeps first", in: "Science, science, Arts", want: []string{"Science", "Arts"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitCSV(tt.in))
		})
	}
}

func TestExpandRange(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []int
		wantErr bool
	}{
		{name: "empty", in: "", want: []int{}},
		{name: "single", in: "7", want: []int{7}},
		{name: "range", in: "1-5", want: []int{1, 2, 3, 4, 5}},
		{name: "mixed & unsorted", in: "10-12, 3, 1-2", want: []int{1, 2, 3, 10, 11, 12}},
		{name: "overlapping", in: "1-4,3-6", want: []int{1, 2, 3, 4, 5, 6}},
		{name: "spaces around dash", in: "1 - 3", want: []int{1, 2, 3}},
		{name: "bangla digits", in: "১-৩", want: []int{1, 2, 3}},
		{name: "reversed", in: "5-1", wantErr: true},
		{name: "zero", in: "0-3", wantErr: true},
		{name: "negative", in: "-3", wantErr: true},
		{name: "not a number", in: "a-b", wantErr: true},
		{name: "open ended", in: "4-", wantErr: true},
		{name: "too large", in: "1-5001", wantErr: true},
		{name: "too large combined", in: "1-3000,4000-7000", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandRange(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompactRange(t *testing.T) {
	assert.Equal(t, "", CompactRange(nil))
	assert.Equal(t, "1-3,5,7-8", CompactRange([]int{8, 1, 2, 3, 5, 7}))
	assert.Equal(t, "4", CompactRange([]int{4, 4}))

	nums, err := ExpandRange(CompactRange([]int{1, 2, 3, 9, 11, 12}))
	assert.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 9, 11, 12}, nums)
}

func TestResolveOther(t *testing.T) {
	known := []string{"Farmer", "Teacher", "Businessman", "Service Holder", "Other"}

	tests := []struct {
		name     string
		selected string
		other    string
		want     string
		wantErr  error
	}{
		{name: "known option", selected: "Farmer", other: "ignored", want: "Farmer"},
		{name: "other without text", selected: "Other", other: "  ", wantErr: ErrOtherRequired},
		{name: "other free text", selected: "Other", other: " Fisher  man ", want: "Fisher man"},
		{name: "other matching known (case)", selected: "other", other: "teacher", want: "Teacher"},
		{name: "other close to known", selected: "Others", other: "Teachr", want: "Teacher"},
		{name: "bangla marker", selected: "অন্যান্য", other: "Driver", want: "Driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveOther(tt.selected, tt.other, known)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanMobile(t *testing.T) {
	assert.Equal(t, "01711000000", CleanMobile("+880 1711-000000"))
	assert.Equal(t, "01711000000", CleanMobile("০১৭১১০০০০০০"))
	assert.Equal(t, "01711000000", CleanMobile(" 01711 000000 "))
}
