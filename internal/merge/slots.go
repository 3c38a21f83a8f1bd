// internal/merge/slots.go
package merge

import "github.com/Corphon/ShotPipelineMCP/internal/models"

// PadSlots 返回补齐到3个槽位的副本，超出部分保留
func PadSlots(slots []models.ImageSlot) []models.ImageSlot {
	n := len(slots)
	if n < models.SlotCount {
		n = models.SlotCount
	}
	out := make([]models.ImageSlot, n)
	copy(out, slots)
	return out
}

// PadReferences 参考图/主图槽位补齐
func PadReferences(refs []models.ReferenceImage) []models.ReferenceImage {
	n := len(refs)
	if n < models.SlotCount {
		n = models.SlotCount
	}
	out := make([]models.ReferenceImage, n)
	copy(out, refs)
	return out
}

// Slot 合并单个生成图槽位
func Slot(existing, incoming models.ImageSlot) models.ImageSlot {
	return models.ImageSlot{
		URL:         Scalar(existing.URL, incoming.URL),
		Description: Scalar(existing.Description, incoming.Description),
	}
}

// Reference 合并单个参考图槽位
func Reference(existing, incoming models.ReferenceImage) models.ReferenceImage {
	return models.ReferenceImage{
		URL:         Scalar(existing.URL, incoming.URL),
		Description: Scalar(existing.Description, incoming.Description),
		Type:        Scalar(existing.Type, incoming.Type),
	}
}

// ImageSlots 按位置合并：incoming 的非空槽位写入同一位置
func ImageSlots(existing, incoming []models.ImageSlot) []models.ImageSlot {
	out := PadSlots(existing)
	for i, slot := range incoming {
		if slot.IsEmpty() {
			continue
		}
		if i >= len(out) {
			out = append(out, make([]models.ImageSlot, i-len(out)+1)...)
		}
		out[i] = Slot(out[i], slot)
	}
	return out
}

// WriteSlot 只替换解析出的那个槽位
func WriteSlot(existing []models.ImageSlot, index int, slot models.ImageSlot) []models.ImageSlot {
	out := PadSlots(existing)
	if index < 0 || index >= len(out) || slot.IsEmpty() {
		return out
	}
	out[index] = Slot(out[index], slot)
	return out
}

// ReferenceSlots 参考图/主图按位置合并
func ReferenceSlots(existing, incoming []models.ReferenceImage) []models.ReferenceImage {
	out := PadReferences(existing)
	for i, ref := range incoming {
		if ref.IsEmpty() {
			continue
		}
		if i >= len(out) {
			out = append(out, make([]models.ReferenceImage, i-len(out)+1)...)
		}
		out[i] = Reference(out[i], ref)
	}
	return out
}

// WriteReference 只替换指定的参考图槽位
func WriteReference(existing []models.ReferenceImage, index int, ref models.ReferenceImage) []models.ReferenceImage {
	out := PadReferences(existing)
	if index < 0 || index >= len(out) || ref.IsEmpty() {
		return out
	}
	out[index] = Reference(out[index], ref)
	return out
}
