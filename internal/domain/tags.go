package domain

import "strings"

var tagReplacer = strings.NewReplacer("_", "", "-", "", " ", "")

// NormalizeTag lowercases a module or chapter tag and strips separators so
// "ROS_2", "ros-2" and "ros 2" compare equal.
func NormalizeTag(s string) string {
	return tagReplacer.Replace(strings.ToLower(strings.TrimSpace(s)))
}
