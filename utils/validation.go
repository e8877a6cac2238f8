package utils

import (
	"fmt"
	"strconv"
	"strings"
)

/*
IsValidPort returns whether the provided integer is a valid port
*/
func IsValidPort(port int) bool {
	return port > 0 && port < 65536
}

/*
ParsePort converts the provided string into a port, surrounding whitespace is ignored
*/
func ParsePort(value string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(value))

	if err != nil {
		return 0, fmt.Errorf("%q is not a number", value)
	} else if !IsValidPort(port) {
		return 0, fmt.Errorf("%d is out of range", port)
	}

	return port, nil
}
