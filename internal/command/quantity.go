package command

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	digitPattern    = regexp.MustCompile(`\d+(\.\d+)?`)
	fractionPattern = regexp.MustCompile(`^\d+$`)
)

// Spoken number words, including the homophones speech recognizers
// commonly return for them.
var numberWords = map[string]float64{
	"zero": 0, "none": 0, "nil": 0,
	"one": 1, "a": 1, "an": 1, "won": 1,
	"two": 2, "to": 2, "too": 2,
	"three": 3,
	"four": 4, "for": 4,
	"five": 5,
	"six": 6,
	"seven": 7,
	"eight": 8, "ate": 8,
	"nine": 9,
	"ten": 10,
	"eleven": 11,
	"twelve": 12, "dozen": 12,
	"thirteen": 13,
	"fourteen": 14,
	"fifteen": 15,
	"sixteen": 16,
	"seventeen": 17,
	"eighteen": 18,
	"nineteen": 19,
	"twenty": 20,
	"half": 0.5,
}

// ParseQuantity extracts a bottle count from a spoken phrase. Digits win
// over words; "three and a half" and "two point five" are understood.
func ParseQuantity(transcript string) (float64, bool) {
	text := normalize(transcript)
	if text == "" {
		return 0, false
	}

	if base, _, found := strings.Cut(text, " and a half"); found {
		if v, ok := leadingNumber(base); ok {
			return v + 0.5, true
		}
	}

	// Before bare digits, so "1 point 5" is not read as 1
	if v, ok := pointNumber(text); ok {
		return v, true
	}

	if v, ok := digits(text); ok {
		return v, true
	}

	return firstNumberWord(text)
}

// pointNumber reads "two point five", "1 point 25" and "point five"
func pointNumber(text string) (float64, bool) {
	whole, frac, found := strings.Cut(" "+text+" ", " point ")
	if !found {
		return 0, false
	}
	fields := strings.Fields(frac)
	if len(fields) == 0 {
		return 0, false
	}

	var dec float64
	if fractionPattern.MatchString(fields[0]) {
		v, err := strconv.ParseFloat("0."+fields[0], 64)
		if err != nil {
			return 0, false
		}
		dec = v
	} else if v, ok := numberWords[fields[0]]; ok && v >= 0 && v < 10 && v == float64(int(v)) {
		dec = v / 10
	} else {
		return 0, false
	}

	intPart, _ := leadingNumber(whole)
	return intPart + dec, true
}

func firstNumberWord(text string) (float64, bool) {
	words := strings.Fields(text)
	for i, word := range words {
		// "a dozen", "a half"
		if (word == "a" || word == "an") && i+1 < len(words) {
			if v, ok := numberWords[words[i+1]]; ok {
				return v, true
			}
		}
		if v, ok := numberWords[word]; ok {
			return v, true
		}
	}
	return 0, false
}

func digits(text string) (float64, bool) {
	m := digitPattern.FindString(text)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func leadingNumber(text string) (float64, bool) {
	if v, ok := digits(text); ok {
		return v, true
	}
	return firstNumberWord(text)
}
