package market

import (
	"fmt"
	"time"
)

// DateLayout 是交易日的标准格式。
const DateLayout = "2006-01-02"

// Calendar 提供交易所时区下的交易日与盘中时刻判断。
type Calendar struct {
	loc *time.Location
}

// NewCalendar 加载交易所时区。
func NewCalendar(timezone string) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("加载时区失败 %s: %w", timezone, err)
	}
	return &Calendar{loc: loc}, nil
}

// Location 返回交易所时区。
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Today 返回交易所时区下的当前日期串。
func (c *Calendar) Today(now time.Time) string {
	return now.In(c.loc).Format(DateLayout)
}

// DateOf 将 Unix 毫秒换算到交易所时区下的日期串。
func (c *Calendar) DateOf(millis int64) string {
	return time.UnixMilli(millis).In(c.loc).Format(DateLayout)
}

// ParseDate 解析日期串（按交易所时区零点）。
func (c *Calendar) ParseDate(date string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("日期格式应为 YYYY-MM-DD: %w", err)
	}
	return t, nil
}

// IsWeekend 判断日期是否为周末（周六/周日）。
func (c *Calendar) IsWeekend(date string) (bool, error) {
	t, err := c.ParseDate(date)
	if err != nil {
		return false, err
	}
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday, nil
}

// DaysBetween 返回 from 到 to 的自然日差，from 晚于 to 时取 0。
func (c *Calendar) DaysBetween(from, to string) (int, error) {
	start, err := c.ParseDate(from)
	if err != nil {
		return 0, err
	}
	end, err := c.ParseDate(to)
	if err != nil {
		return 0, err
	}
	days := int(end.Sub(start).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days, nil
}

// AtOrAfterTimeOfDay 判断毫秒时间戳在交易所时区下是否到达 HH:MM。
func (c *Calendar) AtOrAfterTimeOfDay(millis int64, hhmm string) (bool, error) {
	mark, err := time.Parse("15:04", hhmm)
	if err != nil {
		return false, fmt.Errorf("时刻格式应为 HH:MM: %w", err)
	}
	ts := time.UnixMilli(millis).In(c.loc)
	minuteOfDay := ts.Hour()*60 + ts.Minute()
	markMinute := mark.Hour()*60 + mark.Minute()
	return minuteOfDay >= markMinute, nil
}
