package catalog

import (
	"time"

	"github.com/tinylib/msgp/msgp"
)

const (
	beatmapSetFields      = 15
	childrenBeatmapFields = 16

	// maxChildrenPerSet 限制单个谱面集可声明的子谱面数量。
	maxChildrenPerSet = 1 << 12
	// childrenPrealloc 是按流中声明长度预分配的上限，其余按实际读到的记录增长。
	childrenPrealloc = 64
)

var (
	_ msgp.Encodable = (*BeatmapSet)(nil)
	_ msgp.Decodable = (*BeatmapSet)(nil)
	_ msgp.Encodable = (*ChildrenBeatmap)(nil)
	_ msgp.Decodable = (*ChildrenBeatmap)(nil)
)

// EncodeMsg 按固定下标顺序写出 15 元素数组。
func (z *BeatmapSet) EncodeMsg(en *msgp.Writer) error {
	if err := en.WriteArrayHeader(beatmapSetFields); err != nil {
		return err
	}
	if err := en.WriteInt(z.SetID); err != nil {
		return msgp.WrapError(err, "SetID")
	}
	if z.ChildrenBeatmaps == nil {
		if err := en.WriteNil(); err != nil {
			return msgp.WrapError(err, "ChildrenBeatmaps")
		}
	} else {
		if err := en.WriteArrayHeader(uint32(len(z.ChildrenBeatmaps))); err != nil {
			return msgp.WrapError(err, "ChildrenBeatmaps")
		}
		for i := range z.ChildrenBeatmaps {
			if err := z.ChildrenBeatmaps[i].EncodeMsg(en); err != nil {
				return msgp.WrapError(err, "ChildrenBeatmaps", i)
			}
		}
	}
	if err := en.WriteInt32(int32(z.RankedStatus)); err != nil {
		return msgp.WrapError(err, "RankedStatus")
	}
	if err := writeOptionalTime(en, z.ApprovedDate); err != nil {
		return msgp.WrapError(err, "ApprovedDate")
	}
	if err := writeOptionalTime(en, z.LastUpdate); err != nil {
		return msgp.WrapError(err, "LastUpdate")
	}
	if err := writeOptionalTime(en, z.LastChecked); err != nil {
		return msgp.WrapError(err, "LastChecked")
	}
	for _, s := range []string{z.Artist, z.Title, z.Creator, z.Source, z.Tags} {
		if err := en.WriteString(s); err != nil {
			return err
		}
	}
	if err := en.WriteBool(z.HasVideo); err != nil {
		return msgp.WrapError(err, "HasVideo")
	}
	if err := en.WriteInt32(int32(z.Genre)); err != nil {
		return msgp.WrapError(err, "Genre")
	}
	if err := en.WriteInt32(int32(z.Language)); err != nil {
		return msgp.WrapError(err, "Language")
	}
	if err := en.WriteInt64(z.Favourites); err != nil {
		return msgp.WrapError(err, "Favourites")
	}
	return nil
}

// DecodeMsg 读取 EncodeMsg 写出的数组；字符串与子列表允许为 nil。
func (z *BeatmapSet) DecodeMsg(dc *msgp.Reader) error {
	sz, err := dc.ReadArrayHeader()
	if err != nil {
		return err
	}
	if sz != beatmapSetFields {
		return msgp.ArrayError{Wanted: beatmapSetFields, Got: sz}
	}

	if z.SetID, err = dc.ReadInt(); err != nil {
		return msgp.WrapError(err, "SetID")
	}
	z.ChildrenBeatmaps = nil
	if dc.IsNil() {
		if err := dc.ReadNil(); err != nil {
			return msgp.WrapError(err, "ChildrenBeatmaps")
		}
	} else {
		n, err := dc.ReadArrayHeader()
		if err != nil {
			return msgp.WrapError(err, "ChildrenBeatmaps")
		}
		if n > maxChildrenPerSet || n > dc.GetMaxElements() {
			return msgp.WrapError(msgp.ErrLimitExceeded, "ChildrenBeatmaps")
		}
		if n > 0 {
			z.ChildrenBeatmaps = make([]ChildrenBeatmap, 0, min(n, childrenPrealloc))
		}
		for i := uint32(0); i < n; i++ {
			var child ChildrenBeatmap
			if err := child.DecodeMsg(dc); err != nil {
				return msgp.WrapError(err, "ChildrenBeatmaps", i)
			}
			z.ChildrenBeatmaps = append(z.ChildrenBeatmaps, child)
		}
	}
	status, err := dc.ReadInt32()
	if err != nil {
		return msgp.WrapError(err, "RankedStatus")
	}
	z.RankedStatus = RankedStatus(status)
	if z.ApprovedDate, err = readOptionalTime(dc); err != nil {
		return msgp.WrapError(err, "ApprovedDate")
	}
	if z.LastUpdate, err = readOptionalTime(dc); err != nil {
		return msgp.WrapError(err, "LastUpdate")
	}
	if z.LastChecked, err = readOptionalTime(dc); err != nil {
		return msgp.WrapError(err, "LastChecked")
	}
	for _, dst := range []*string{&z.Artist, &z.Title, &z.Creator, &z.Source, &z.Tags} {
		if *dst, err = readString(dc); err != nil {
			return err
		}
	}
	if z.HasVideo, err = dc.ReadBool(); err != nil {
		return msgp.WrapError(err, "HasVideo")
	}
	genre, err := dc.ReadInt32()
	if err != nil {
		return msgp.WrapError(err, "Genre")
	}
	z.Genre = Genre(genre)
	language, err := dc.ReadInt32()
	if err != nil {
		return msgp.WrapError(err, "Language")
	}
	z.Language = Language(language)
	if z.Favourites, err = dc.ReadInt64(); err != nil {
		return msgp.WrapError(err, "Favourites")
	}
	return nil
}

// EncodeMsg 按固定下标顺序写出 16 元素数组。
func (z *ChildrenBeatmap) EncodeMsg(en *msgp.Writer) error {
	if err := en.WriteArrayHeader(childrenBeatmapFields); err != nil {
		return err
	}
	if err := en.WriteInt(z.BeatmapID); err != nil {
		return msgp.WrapError(err, "BeatmapID")
	}
	if err := en.WriteInt(z.ParentSetID); err != nil {
		return msgp.WrapError(err, "ParentSetID")
	}
	if err := en.WriteString(z.DiffName); err != nil {
		return msgp.WrapError(err, "DiffName")
	}
	if err := en.WriteString(z.FileMD5); err != nil {
		return msgp.WrapError(err, "FileMD5")
	}
	if err := en.WriteInt32(int32(z.Mode)); err != nil {
		return msgp.WrapError(err, "Mode")
	}
	for _, f := range []float32{z.BPM, z.AR, z.OD, z.CS, z.HP} {
		if err := en.WriteFloat32(f); err != nil {
			return err
		}
	}
	if err := en.WriteInt(z.TotalLength); err != nil {
		return msgp.WrapError(err, "TotalLength")
	}
	if err := en.WriteInt64(z.HitLength); err != nil {
		return msgp.WrapError(err, "HitLength")
	}
	if err := en.WriteInt(z.Playcount); err != nil {
		return msgp.WrapError(err, "Playcount")
	}
	if err := en.WriteInt(z.Passcount); err != nil {
		return msgp.WrapError(err, "Passcount")
	}
	if err := en.WriteInt64(z.MaxCombo); err != nil {
		return msgp.WrapError(err, "MaxCombo")
	}
	if err := en.WriteFloat64(z.DifficultyRating); err != nil {
		return msgp.WrapError(err, "DifficultyRating")
	}
	return nil
}

func (z *ChildrenBeatmap) DecodeMsg(dc *msgp.Reader) error {
	sz, err := dc.ReadArrayHeader()
	if err != nil {
		return err
	}
	if sz != childrenBeatmapFields {
		return msgp.ArrayError{Wanted: childrenBeatmapFields, Got: sz}
	}

	if z.BeatmapID, err = dc.ReadInt(); err != nil {
		return msgp.WrapError(err, "BeatmapID")
	}
	if z.ParentSetID, err = dc.ReadInt(); err != nil {
		return msgp.WrapError(err, "ParentSetID")
	}
	if z.DiffName, err = readString(dc); err != nil {
		return msgp.WrapError(err, "DiffName")
	}
	if z.FileMD5, err = readString(dc); err != nil {
		return msgp.WrapError(err, "FileMD5")
	}
	mode, err := dc.ReadInt32()
	if err != nil {
		return msgp.WrapError(err, "Mode")
	}
	z.Mode = PlayMode(mode)
	for _, dst := range []*float32{&z.BPM, &z.AR, &z.OD, &z.CS, &z.HP} {
		if *dst, err = dc.ReadFloat32(); err != nil {
			return err
		}
	}
	if z.TotalLength, err = dc.ReadInt(); err != nil {
		return msgp.WrapError(err, "TotalLength")
	}
	if z.HitLength, err = dc.ReadInt64(); err != nil {
		return msgp.WrapError(err, "HitLength")
	}
	if z.Playcount, err = dc.ReadInt(); err != nil {
		return msgp.WrapError(err, "Playcount")
	}
	if z.Passcount, err = dc.ReadInt(); err != nil {
		return msgp.WrapError(err, "Passcount")
	}
	if z.MaxCombo, err = dc.ReadInt64(); err != nil {
		return msgp.WrapError(err, "MaxCombo")
	}
	if z.DifficultyRating, err = dc.ReadFloat64(); err != nil {
		return msgp.WrapError(err, "DifficultyRating")
	}
	return nil
}

// writeOptionalTime 使用标准 MessagePack timestamp 扩展（类型 -1）。
func writeOptionalTime(en *msgp.Writer, t *time.Time) error {
	if t == nil {
		return en.WriteNil()
	}
	return en.WriteTimeExt(*t)
}

func readOptionalTime(dc *msgp.Reader) (*time.Time, error) {
	if dc.IsNil() {
		return nil, dc.ReadNil()
	}
	t, err := dc.ReadTime()
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func readString(dc *msgp.Reader) (string, error) {
	if dc.IsNil() {
		return "", dc.ReadNil()
	}
	return dc.ReadString()
}
