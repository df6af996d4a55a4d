package domain

import (
	"fmt"
	"strings"
)

// Platform identifies a publishing destination. LinkedIn has two
// destinations, the member profile and the organization page.
type Platform string

const (
	PlatformFacebook     Platform = "facebook"
	PlatformLinkedIn     Platform = "linkedin"
	PlatformLinkedInPage Platform = "linkedin_page"
	PlatformTelegram     Platform = "telegram"
)

func (p Platform) String() string { return string(p) }

func (p Platform) IsValid() bool {
	switch p {
	case PlatformFacebook, PlatformLinkedIn, PlatformLinkedInPage, PlatformTelegram:
		return true
	}
	return false
}

func ParsePlatformFromString(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: invalid platform %q", ErrValidation, s)
	}
	return p, nil
}

// ParsePlatforms parses and de-duplicates a platform list, keeping the first
// occurrence order.
func ParsePlatforms(values []string) ([]Platform, error) {
	platforms := make([]Platform, 0, len(values))
	seen := make(map[Platform]struct{}, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		p, err := ParsePlatformFromString(v)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		platforms = append(platforms, p)
	}
	return platforms, nil
}

// JoinPlatforms renders platforms as a comma separated list.
func JoinPlatforms(platforms []Platform) string {
	parts := make([]string, 0, len(platforms))
	for _, p := range platforms {
		parts = append(parts, p.String())
	}
	return strings.Join(parts, ",")
}

// SplitPlatforms is the inverse of JoinPlatforms. Unknown entries are dropped.
func SplitPlatforms(s string) []Platform {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	platforms, err := ParsePlatforms(strings.Split(s, ","))
	if err == nil {
		return platforms
	}

	platforms = platforms[:0]
	for _, part := range strings.Split(s, ",") {
		if p, err := ParsePlatformFromString(part); err == nil {
			platforms = append(platforms, p)
		}
	}
	return platforms
}

// LinkedInTarget selects which LinkedIn destinations a "linkedin" selection
// expands to.
type LinkedInTarget string

const (
	LinkedInTargetProfile LinkedInTarget = "profile"
	LinkedInTargetPage    LinkedInTarget = "page"
	LinkedInTargetBoth    LinkedInTarget = "both"
)

func (t LinkedInTarget) IsValid() bool {
	switch t {
	case LinkedInTargetProfile, LinkedInTargetPage, LinkedInTargetBoth:
		return true
	}
	return false
}

func ParseLinkedInTargetFromString(s string) (LinkedInTarget, error) {
	t := LinkedInTarget(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid linkedin_target %q", ErrValidation, s)
	}
	return t, nil
}

// ApplyLinkedInTarget rewrites a "linkedin" entry according to target.
// Lists without a "linkedin" entry are returned unchanged.
func ApplyLinkedInTarget(platforms []Platform, target LinkedInTarget) []Platform {
	if target == "" {
		return platforms
	}

	var replacement []Platform
	switch target {
	case LinkedInTargetProfile:
		replacement = []Platform{PlatformLinkedIn}
	case LinkedInTargetPage:
		replacement = []Platform{PlatformLinkedInPage}
	case LinkedInTargetBoth:
		replacement = []Platform{PlatformLinkedIn, PlatformLinkedInPage}
	default:
		return platforms
	}

	result := make([]Platform, 0, len(platforms)+1)
	seen := make(map[Platform]struct{}, len(platforms)+1)
	add := func(p Platform) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		result = append(result, p)
	}
	for _, p := range platforms {
		if p == PlatformLinkedIn {
			for _, r := range replacement {
				add(r)
			}
			continue
		}
		add(p)
	}
	return result
}
