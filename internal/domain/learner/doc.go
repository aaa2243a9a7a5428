// Package learner содержит доменную модель ученика платформы LEAP.
//
// Пакет определяет:
//
//   - Сущность User: целевой балл IELTS, длительность подготовки,
//     уровни навыков (0.0–9.0), накопленные очки и число выполненных заданий
//   - Интерфейс репозитория Repository, который реализуется в infrastructure
//
// # Инварианты
//
//  1. Уровень навыка всегда в диапазоне [0.0, 9.0]
//  2. Очки и счётчик заданий только растут
//  3. Целевой балл в диапазоне [0.0, 9.0]
//
// Пакет не знает ничего о хранилище: алгоритмы движка (goal, streak, skill,
// leaderboard, incentive) получают User как значение.
package learner
