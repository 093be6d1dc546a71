package progression

const (
	DefaultLevelStep = 100
)

// Curve maps XP to levels. The XP needed to reach level n is
//
//	Step*(n-1) + Growth*(n-1)*(n-2)/2
//
// which is linear when Growth is 0 and strictly increasing for Step > 0.
type Curve struct {
	Step   int
	Growth int
}

func (c Curve) normalized() Curve {
	if c.Step <= 0 {
		c.Step = DefaultLevelStep
	}
	if c.Growth < 0 {
		c.Growth = 0
	}
	return c
}

// XPForLevel returns the XP threshold of level n. Levels below 1 read as 1.
func (c Curve) XPForLevel(n int) int {
	c = c.normalized()
	if n <= 1 {
		return 0
	}
	k := n - 1
	return c.Step*k + c.Growth*k*(k-1)/2
}

// Level returns the greatest n with XPForLevel(n) <= xp.
func (c Curve) Level(xp int) int {
	c = c.normalized()
	if xp <= 0 {
		return 1
	}
	lo, hi := 1, 2
	for c.XPForLevel(hi) <= xp {
		lo = hi
		hi *= 2
	}
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if c.XPForLevel(mid) <= xp {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

type LevelInfo struct {
	Level          int     `json:"level"`
	XP             int     `json:"xp"`
	CurrentLevelXP int     `json:"current_level_xp"`
	NextLevelXP    int     `json:"next_level_xp"`
	Progress       float64 `json:"progress"`
}

func (c Curve) Info(xp int) LevelInfo {
	if xp < 0 {
		xp = 0
	}
	lvl := c.Level(xp)
	cur := c.XPForLevel(lvl)
	next := c.XPForLevel(lvl + 1)
	info := LevelInfo{Level: lvl, XP: xp, CurrentLevelXP: cur, NextLevelXP: next}
	if span := next - cur; span > 0 {
		info.Progress = float64(xp-cur) / float64(span)
	}
	return info
}
