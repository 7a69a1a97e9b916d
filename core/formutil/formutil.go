// Package formutil holds the small normalisation helpers shared by the form payloads:
// CSV lists, serial number ranges, "other" choices and digit cleaning.
package formutil

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"
)

// MaxRangeSize is the maximum number of items ExpandRange will produce.
const MaxRangeSize = 5000

// OtherMinSimilarity is the ratio above which a free text "other" value is replaced by a known option.
const OtherMinSimilarity = .85

var (
	ErrOtherRequired = errors.New("please specify")
	ErrRangeTooLarge = errors.Errorf("range expands to more than %d items", MaxRangeSize)

	otherMarkers = []string{"other", "others", "অন্যান্য"}
)

// SplitCSV splits a comma separated list, trims every token and drops empty and duplicated ones.
func SplitCSV(s string) []string {
	parts := strings.Split(s, ",")
	res := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.Join(strings.Fields(p), " ")
		if p == "" || seen[strings.ToLower(p)] {
			continue
		}
		seen[strings.ToLower(p)] = true
		res = append(res, p)
	}
	return res
}

// ExpandRange expands a list such as "1-5, 8, 10-12" into the sorted unique numbers it denotes.
func ExpandRange(s string) ([]int, error) {
	set := make(map[int]struct{})
	for _, tok := range SplitCSV(s) {
		tok = strings.ReplaceAll(tok, " ", "")
		lo, hi, err := parseRangeToken(tok)
		if err != nil {
			return nil, err
		}
		if hi-lo+1 > MaxRangeSize {
			return nil, ErrRangeTooLarge
		}
		for n := lo; n <= hi; n++ {
			set[n] = struct{}{}
		}
		if len(set) > MaxRangeSize {
			return nil, ErrRangeTooLarge
		}
	}

	res := make([]int, 0, len(set))
	for n := range set {
		res = append(res, n)
	}
	sort.Ints(res)
	return res, nil
}

func parseRangeToken(tok string) (int, int, error) {
	bounds := strings.SplitN(tok, "-", 2)
	lo, err := parsePositive(bounds[0])
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid range %q", tok)
	}
	if len(bounds) == 1 {
		return lo, lo, nil
	}
	hi, err := parsePositive(bounds[1])
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid range %q", tok)
	}
	if hi < lo {
		return 0, 0, errors.Errorf("invalid range %q: end is lower than start", tok)
	}
	return lo, hi, nil
}

func parsePositive(s string) (int, error) {
	n, err := strconv.Atoi(CleanDigits(s))
	if err != nil {
		return 0, errors.New("not a number")
	}
	if n <= 0 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}

// CompactRange is the inverse of ExpandRange: [1 2 3 5] -> "1-3,5".
func CompactRange(nums []int) string {
	if len(nums) == 0 {
		return ""
	}
	sorted := append([]int(nil), nums...)
	sort.Ints(sorted)

	var b strings.Builder
	write := func(lo, hi int) {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(lo))
		if hi > lo {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(hi))
		}
	}

	lo, prev := sorted[0], sorted[0]
	for _, n := range sorted[1:] {
		if n == prev || n == prev+1 {
			prev = n
			continue
		}
		write(lo, prev)
		lo, prev = n, n
	}
	write(lo, prev)
	return b.String()
}

// IsOther reports whether `selected` is the "other" choice of a dropdown.
func IsOther(selected string) bool {
	selected = strings.ToLower(strings.TrimSpace(selected))
	for _, m := range otherMarkers {
		if selected == m {
			return true
		}
	}
	return false
}

// ResolveOther returns the effective value of a dropdown offering an "other" free text field.
// The free text is snapped to the closest `known` option when they are similar enough.
func ResolveOther(selected, other string, known []string) (string, error) {
	selected = strings.Join(strings.Fields(selected), " ")
	if !IsOther(selected) {
		return selected, nil
	}

	other = strings.Join(strings.Fields(other), " ")
	if other == "" {
		return "", ErrOtherRequired
	}

	lother := strings.ToLower(other)
	best, bestRatio := "", 0.0
	for _, k := range known {
		if IsOther(k) {
			continue
		}
		lk := strings.ToLower(k)
		if lk == lother {
			return k, nil
		}
		ratio := difflib.NewMatcher(strings.Split(lother, ""), strings.Split(lk, "")).Ratio()
		if ratio > bestRatio {
			best, bestRatio = k, ratio
		}
	}
	if bestRatio >= OtherMinSimilarity {
		return best, nil
	}
	return other, nil
}

var (
	digitReplacer = strings.NewReplacer(
		"০", "0", "১", "1", "২", "2", "৩", "3", "৪", "4",
		"৫", "5", "৬", "6", "৭", "7", "৮", "8", "৯", "9",
	)
	separatorReplacer = strings.NewReplacer(" ", "", "-", "", "\t", "")
)

// ToASCIIDigits converts Bangla digits to ASCII.
func ToASCIIDigits(s string) string {
	return digitReplacer.Replace(s)
}

// CleanDigits converts Bangla digits to ASCII and strips spaces and dashes.
func CleanDigits(s string) string {
	return separatorReplacer.Replace(ToASCIIDigits(strings.TrimSpace(s)))
}

// CleanMobile normalises a mobile number: "+880 1711-000000" -> "01711000000".
func CleanMobile(s string) string {
	s = CleanDigits(s)
	s = strings.TrimPrefix(s, "+")
	if strings.HasPrefix(s, "880") && len(s) == 13 {
		s = s[2:]
	}
	return s
}
