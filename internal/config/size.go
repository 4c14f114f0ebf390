package config

import (
	"math/bits"
	"strconv"
	"strings"
)

// DefaultCleanerMaxSize 是预算无法解析或为 0 时的回退值（500 GiB）。
const DefaultCleanerMaxSize uint64 = 500 * 1024 * 1024 * 1024

var sizeUnits = map[byte]uint64{
	'b': 1,
	'k': 1 << 10,
	'm': 1 << 20,
	'g': 1 << 30,
	't': 1 << 40,
}

// ParseByteSize 将 "500G"、"10240M"、纯数字等容量写法解析为字节数。
// 末位是数字时整体按字节解析；无法识别的后缀等同于 B。解析失败、结果为 0
// 或乘法溢出时统一回退到 DefaultCleanerMaxSize，不向调用方返回错误。
func ParseByteSize(raw string) uint64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultCleanerMaxSize
	}

	last := raw[len(raw)-1]
	number := raw
	multiplier := uint64(1)
	if last < '0' || last > '9' {
		number = raw[:len(raw)-1]
		if unit, ok := sizeUnits[lower(last)]; ok {
			multiplier = unit
		}
	}

	value, err := strconv.ParseUint(number, 10, 64)
	if err != nil || value == 0 {
		return DefaultCleanerMaxSize
	}

	hi, product := bits.Mul64(value, multiplier)
	if hi != 0 {
		return DefaultCleanerMaxSize
	}
	return product
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
